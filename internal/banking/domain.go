// Package banking stores observed bank transactions and their matches to
// invoices.
package banking

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// Payment is a single incoming payment as read from a bank notification.
type Payment struct {
	Amount              decimal.Decimal
	Currency            string
	VariableSymbol      string
	ConstantSymbol      string
	SpecificSymbol      string
	CounterpartyAccount string
	CounterpartyName    string
	Description         string
	TransactionAt       time.Time
	BankReference       string
}

// BankTransaction is a persisted Payment. IsMatched flips to true once, when
// a PaymentMatch is committed, and back only when that match is cancelled.
type BankTransaction struct {
	ID            int64
	CompanyID     int64
	BankAccountID int64
	Payment
	DedupKey         string
	ImportBatch      uuid.UUID
	IsMatched        bool
	MatchedInvoiceID *int64
	CreatedAt        time.Time
}

// MatchType records how a match was found.
type MatchType string

const (
	MatchAutomatic MatchType = "automatic"
	MatchManual    MatchType = "manual"
	MatchPartial   MatchType = "partial"
)

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	switch t {
	case MatchAutomatic, MatchManual, MatchPartial:
		return true
	}
	return false
}

// MatchStatus is the reviewer's verdict on a match.
type MatchStatus string

const (
	MatchStatusMatched   MatchStatus = "matched"
	MatchStatusDisputed  MatchStatus = "disputed"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// CanReview reports whether a reviewer may move a match between statuses.
// Cancelled is terminal.
func CanReview(from, to MatchStatus) bool {
	switch from {
	case MatchStatusMatched:
		return to == MatchStatusDisputed || to == MatchStatusCancelled
	case MatchStatusDisputed:
		return to == MatchStatusMatched || to == MatchStatusCancelled
	}
	return false
}

// PaymentMatch links a bank transaction to the invoice it pays. Rows are
// never deleted; only Status changes after insert.
type PaymentMatch struct {
	ID                int64
	BankTransactionID int64
	InvoiceID         int64
	MatchType         MatchType
	Confidence        int
	MatchedAmount     decimal.Decimal
	Status            MatchStatus
	Notes             string
	MatchedBy         *int64
	CreatedAt         time.Time
}

// DedupKey fingerprints a payment within a company and bank account so the
// same notification processed twice yields the same key. Only fields every
// extraction path fills take part: value date, amount, variable symbol and
// counterparty account.
func DedupKey(companyID, bankAccountID int64, p Payment) string {
	date := ""
	if !p.TransactionAt.IsZero() {
		date = p.TransactionAt.Format(time.DateOnly)
	}
	parts := []string{
		strconv.FormatInt(companyID, 10),
		strconv.FormatInt(bankAccountID, 10),
		date,
		p.Amount.StringFixed(2),
		strings.TrimLeft(strings.TrimSpace(p.VariableSymbol), "0"),
		normalizeAccount(p.CounterpartyAccount),
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// normalizeAccount reduces "000019-0123456789 / 0800" and "19-123456789/0800"
// to the same form.
func normalizeAccount(account string) string {
	account = strings.Join(strings.Fields(account), "")
	number, bank, hasBank := strings.Cut(account, "/")
	prefix, base, hasPrefix := strings.Cut(number, "-")
	if !hasPrefix {
		prefix, base = "", number
	}
	prefix = strings.TrimLeft(prefix, "0")
	base = strings.TrimLeft(base, "0")
	out := base
	if prefix != "" {
		out = prefix + "-" + base
	}
	if hasBank {
		out += "/" + bank
	}
	return out
}
