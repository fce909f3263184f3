// Package expenses records purchase expenses, typically read from receipts.
package expenses

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates expense payment states.
type Status string

const (
	StatusUnpaid Status = "unpaid"
	StatusPaid   Status = "paid"
)

// DefaultCategory is used when a draft names none.
const DefaultCategory = "ostatní"

// Expense is a recorded purchase.
type Expense struct {
	ID                int64
	CompanyID         int64
	SupplierName      string
	SupplierICO       string
	Category          string
	Amount            decimal.Decimal
	VATAmount         decimal.Decimal
	Total             decimal.Decimal
	Currency          string
	Status            Status
	IssuedAt          time.Time
	Description       string
	ReceiptAttachment string
	CreatedAt         time.Time
}

// Draft is the partially known expense read from a receipt or a chat
// message. Amount is the net base; any two of Amount, VATAmount and Total
// are enough, and Total alone is split with VATRate.
type Draft struct {
	SupplierName      string
	SupplierICO       string
	Category          string
	Amount            decimal.NullDecimal
	VATAmount         decimal.NullDecimal
	Total             decimal.NullDecimal
	VATRate           *decimal.Decimal
	Currency          string
	IssuedAt          time.Time
	Description       string
	ReceiptAttachment string
}
