// Package money holds decimal helpers shared by extraction, matching and invoicing.
package money

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when an amount carries no currency marker.
const DefaultCurrency = "CZK"

var (
	// Tolerance is the inclusive absolute difference under which two amounts are equal.
	Tolerance = decimal.New(1, -2)
	// DefaultVATRate is the standard Czech VAT rate in percent.
	DefaultVATRate = decimal.NewFromInt(21)

	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
	million  = decimal.NewFromInt(1000000)
)

// ErrInvalidAmount is returned when a string cannot be read as an amount.
var ErrInvalidAmount = errors.New("money: invalid amount")

var (
	plainNumber   = regexp.MustCompile(`^\d+(\.\d+)?$`)
	currencyWords = []string{"kč", "kc", "czk", "eur", "€", "usd", "$", "korun", "korony", "koruny"}
	thousandMarks = []string{"tisíc", "tisic", "tis.", "tis", "k"}
	millionMarks  = []string{"milionů", "milionu", "mil.", "mil", "m"}
)

// Round rounds to two decimal places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// WithinTolerance reports whether a and b differ by at most Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// VAT returns the rounded VAT for base at ratePercent.
func VAT(base, ratePercent decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(ratePercent).Div(hundred))
}

// ParseAmount reads amounts as they appear in Czech bank statements, chat
// messages and LLM output: "5 000,50 Kč", "1.234,56", "1,234.56", "15k",
// "1,5 tis.", "+5000 CZK", "5000,-".
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("\u00a0", " ", "\u202f", " ", "\t", " ").Replace(s)
	s = strings.TrimSuffix(s, ",-")
	s = strings.TrimSuffix(s, ".-")
	for _, w := range currencyWords {
		s = strings.ReplaceAll(s, w, "")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ",-")

	multiplier := decimal.NewFromInt(1)
	if rest, ok := cutSuffix(s, millionMarks); ok {
		multiplier, s = million, rest
	} else if rest, ok := cutSuffix(s, thousandMarks); ok {
		multiplier, s = thousand, rest
	}

	negative := false
	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "'", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	normalized, err := normalizeSeparators(s, !multiplier.Equal(decimal.NewFromInt(1)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !plainNumber.MatchString(normalized) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	d = d.Mul(multiplier)
	if negative {
		d = d.Neg()
	}
	return Round(d), nil
}

// normalizeSeparators turns a digit string with '.' and ',' into a plain
// dot-decimal number. A single comma is always the decimal separator, as in
// Czech notation; a single dot followed by exactly three digits is a
// thousands separator unless a multiplier suffix was present.
func normalizeSeparators(s string, scaled bool) (string, error) {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		lastDot := strings.LastIndex(s, ".")
		lastComma := strings.LastIndex(s, ",")
		if lastComma > lastDot {
			if commas > 1 {
				return "", ErrInvalidAmount
			}
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1), nil
		}
		if dots > 1 {
			return "", ErrInvalidAmount
		}
		return strings.ReplaceAll(s, ",", ""), nil
	case commas > 1:
		return strings.ReplaceAll(s, ",", ""), nil
	case commas == 1:
		return strings.Replace(s, ",", ".", 1), nil
	case dots > 1:
		return strings.ReplaceAll(s, ".", ""), nil
	case dots == 1:
		idx := strings.Index(s, ".")
		if !scaled && len(s)-idx-1 == 3 {
			return strings.Replace(s, ".", "", 1), nil
		}
		return s, nil
	default:
		return s, nil
	}
}

func cutSuffix(s string, marks []string) (string, bool) {
	for _, m := range marks {
		if !strings.HasSuffix(s, m) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimSuffix(s, m))
		if rest == "" {
			continue
		}
		last := rest[len(rest)-1]
		if last < '0' || last > '9' {
			continue
		}
		return rest, true
	}
	return s, false
}

// ParseCurrency maps a currency marker found in text to its ISO code.
func ParseCurrency(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "eur") || strings.Contains(s, "€"):
		return "EUR"
	case strings.Contains(s, "usd") || strings.Contains(s, "$"):
		return "USD"
	case strings.Contains(s, "gbp") || strings.Contains(s, "£"):
		return "GBP"
	default:
		return DefaultCurrency
	}
}

// Format renders an amount in Czech notation, e.g. "5 000,00 Kč".
func Format(d decimal.Decimal, currency string) string {
	fixed := Round(d).StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}
	intPart, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	symbol := currency
	if currency == "" || currency == DefaultCurrency {
		symbol = "Kč"
	}
	return sign + b.String() + "," + frac + " " + symbol
}
