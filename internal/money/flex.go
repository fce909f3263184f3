package money

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// FlexAmount decodes an amount given as a JSON number, a Czech formatted
// string or null. Unreadable strings decode as absent rather than failing
// the whole document.
type FlexAmount struct {
	decimal.NullDecimal
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexAmount) UnmarshalJSON(data []byte) error {
	f.NullDecimal = decimal.NullDecimal{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			return nil
		}
		if d, err := ParseAmount(s); err == nil {
			f.NullDecimal = decimal.NewNullDecimal(d)
		}
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return nil
	}
	f.NullDecimal = decimal.NewNullDecimal(d)
	return nil
}

// Positive reports whether the amount is present and greater than zero.
func (f FlexAmount) Positive() bool {
	return f.Valid && f.Decimal.IsPositive()
}
