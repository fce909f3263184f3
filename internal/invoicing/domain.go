package invoicing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is an issued or draft invoice with its line items.
type Invoice struct {
	ID             int64
	CompanyID      int64
	Number         string
	VariableSymbol string
	CustomerID     int64
	CustomerName   string
	IssueDate      time.Time
	DueDate        time.Time
	Currency       string
	Subtotal       decimal.Decimal
	VATAmount      decimal.Decimal
	Total          decimal.Decimal
	Status         Status
	PaidAt         *time.Time
	PaidAmount     decimal.NullDecimal
	Notes          string
	ReverseCharge  bool
	BankAccount    string
	IBAN           string
	Items          []Item
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item is one invoice line. Total is quantity times unit price.
type Item struct {
	ID          int64
	InvoiceID   int64
	Position    int
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
	VATRate     decimal.Decimal
	Total       decimal.Decimal
}

// HistoryAction enumerates invoice history entries.
type HistoryAction string

const (
	HistoryCreated      HistoryAction = "created"
	HistoryUpdated      HistoryAction = "updated"
	HistorySent         HistoryAction = "sent"
	HistoryPaid         HistoryAction = "paid"
	HistoryReminderSent HistoryAction = "reminder_sent"
	HistoryOverdue      HistoryAction = "overdue"
)

// HistoryEntry is an append-only audit record for an invoice.
type HistoryEntry struct {
	ID          int64
	InvoiceID   int64
	Action      HistoryAction
	Description string
	Actor       string
	CreatedAt   time.Time
}

// Target identifies the invoice a command refers to. Zero values fall back
// to the page path and then to the latest invoice of the company.
type Target struct {
	InvoiceID int64
	PagePath  string
}

// ItemInput adds a line item. A nil VATRate means the default rate.
type ItemInput struct {
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
	VATRate     *decimal.Decimal
}

// UpdateType selects the category of an invoice update.
type UpdateType string

const (
	UpdateDueDate         UpdateType = "due_date"
	UpdateNotes           UpdateType = "notes"
	UpdateCustomerContact UpdateType = "customer_contact"
	UpdatePaymentDetails  UpdateType = "payment_details"
	UpdateStatus          UpdateType = "status"
	UpdateItem            UpdateType = "item"
)

// CustomerContact holds contact fields written onto the invoice customer.
type CustomerContact struct {
	Email         string
	Phone         string
	ContactPerson string
	Address       string
}

// PaymentDetails holds the bank details printed on the invoice.
type PaymentDetails struct {
	BankAccount string
	IBAN        string
}

// ItemChange edits an existing line selected by ID or description.
type ItemChange struct {
	ItemID      int64
	Description string
	Quantity    *decimal.Decimal
	UnitPrice   *decimal.Decimal
}

// UpdateRequest carries the fields relevant to its Type.
type UpdateRequest struct {
	Type    UpdateType
	DueDate time.Time
	Notes   string
	Contact CustomerContact
	Payment PaymentDetails
	Status  string
	Item    ItemChange
}

// Draft is a structured invoice request produced from free text.
type Draft struct {
	CustomerName  string
	CustomerICO   string
	Items         []DraftItem
	Amount        decimal.NullDecimal
	Currency      string
	DueDays       int
	Notes         string
	Description   string
	ReverseCharge bool
}

// DraftItem is one line of a Draft.
type DraftItem struct {
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
	VATRate     *decimal.Decimal
}
