// Package extraction turns bank emails, free text and receipt images into
// structured payments and drafts. A language model does the reading; bank
// emails fall back to regular expressions when it is unavailable.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/ares"
	"github.com/fakturace/fakturace/internal/banking"
	"github.com/fakturace/fakturace/internal/expenses"
	"github.com/fakturace/fakturace/internal/invoicing"
	"github.com/fakturace/fakturace/internal/llm"
	"github.com/fakturace/fakturace/internal/money"
)

// ErrExtractionFailed wraps every invoice and receipt extraction failure.
var ErrExtractionFailed = errors.New("extraction: failed")

// FallbackObserver is told whenever a component falls back to regexes.
type FallbackObserver interface {
	ObserveFallback(component string)
}

// Config configures Extractor. Completer may be nil, in which case payments
// are read by regex only and invoice and receipt extraction fail.
type Config struct {
	Completer llm.Completer
	Observer  FallbackObserver
	Logger    *slog.Logger
}

// Extractor reads structured data out of unstructured input.
type Extractor struct {
	completer llm.Completer
	observer  FallbackObserver
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs Extractor.
func New(cfg Config) *Extractor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		completer: cfg.Completer,
		observer:  cfg.Observer,
		logger:    cfg.Logger.With(slog.String("component", "extraction")),
		now:       time.Now,
	}
}

type paymentDTO struct {
	Amount              money.FlexAmount `json:"amount"`
	Currency            string           `json:"currency"`
	VariableSymbol      flexString       `json:"variableSymbol"`
	ConstantSymbol      flexString       `json:"constantSymbol"`
	SpecificSymbol      flexString       `json:"specificSymbol"`
	CounterpartyAccount string           `json:"counterpartyAccount"`
	CounterpartyName    string           `json:"counterpartyName"`
	Message             string           `json:"message"`
	Date                string           `json:"date"`
	Reference           flexString       `json:"reference"`
}

// ExtractPayments returns the incoming payments described in a bank email.
// It never fails: without a usable model answer it falls back to regexes,
// and it returns an empty slice when nothing resembling a payment is found.
func (e *Extractor) ExtractPayments(ctx context.Context, raw string) []banking.Payment {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []banking.Payment{}
	}
	payments, err := e.llmPayments(ctx, raw)
	if err == nil {
		return payments
	}
	e.logger.Warn("payment extraction falling back to regex", slog.Any("error", err))
	if e.observer != nil {
		e.observer.ObserveFallback("payments")
	}
	if p, ok := regexPayment(raw); ok {
		return []banking.Payment{p}
	}
	return []banking.Payment{}
}

func (e *Extractor) llmPayments(ctx context.Context, raw string) ([]banking.Payment, error) {
	if e.completer == nil {
		return nil, llm.ErrNotConfigured
	}
	resp, err := e.completer.Complete(ctx, llm.Request{
		System:    paymentsPrompt(e.now()),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: raw}},
		JSON:      true,
		MaxTokens: 1000,
	})
	if err != nil {
		return nil, err
	}
	dtos, err := decodePayments(resp.Content)
	if err != nil {
		return nil, err
	}
	payments := make([]banking.Payment, 0, len(dtos))
	for _, d := range dtos {
		if !d.Amount.Positive() {
			continue
		}
		p := banking.Payment{
			Amount:              money.Round(d.Amount.Decimal),
			Currency:            money.ParseCurrency(d.Currency),
			VariableSymbol:      digitsOnly(string(d.VariableSymbol)),
			ConstantSymbol:      digitsOnly(string(d.ConstantSymbol)),
			SpecificSymbol:      digitsOnly(string(d.SpecificSymbol)),
			CounterpartyAccount: strings.TrimSpace(d.CounterpartyAccount),
			CounterpartyName:    strings.TrimSpace(d.CounterpartyName),
			Description:         strings.TrimSpace(d.Message),
			BankReference:       strings.TrimSpace(string(d.Reference)),
		}
		if d.Date != "" {
			p.TransactionAt = findDate(d.Date)
		}
		payments = append(payments, p)
	}
	return payments, nil
}

// decodePayments accepts {"payments": [...]}, a bare array or a single
// payment object.
func decodePayments(content string) ([]paymentDTO, error) {
	var raw json.RawMessage
	if err := llm.DecodeJSON(content, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) > 0 && raw[0] == '[':
		var list []paymentDTO
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", llm.ErrMalformedJSON, err)
		}
		return list, nil
	case len(raw) > 0 && raw[0] == '{':
		var env struct {
			Payments *[]paymentDTO `json:"payments"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", llm.ErrMalformedJSON, err)
		}
		if env.Payments != nil {
			return *env.Payments, nil
		}
		var single paymentDTO
		if err := json.Unmarshal(raw, &single); err != nil || !single.Amount.Valid {
			return nil, fmt.Errorf("%w: no payments key", llm.ErrMalformedJSON)
		}
		return []paymentDTO{single}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected json value", llm.ErrMalformedJSON)
	}
}

type invoiceItemDTO struct {
	Description string           `json:"description"`
	Quantity    money.FlexAmount `json:"quantity"`
	Unit        string           `json:"unit"`
	UnitPrice   money.FlexAmount `json:"unitPrice"`
	VATRate     money.FlexAmount `json:"vatRate"`
}

type invoiceDTO struct {
	CustomerName  string           `json:"customerName"`
	CustomerICO   flexString       `json:"customerIco"`
	Items         []invoiceItemDTO `json:"items"`
	Amount        money.FlexAmount `json:"amount"`
	Currency      string           `json:"currency"`
	DueDays       money.FlexAmount `json:"dueDays"`
	Notes         string           `json:"notes"`
	Description   string           `json:"description"`
	ReverseCharge bool             `json:"reverseCharge"`
}

// ExtractInvoiceFields reads an invoice request such as "vystav fakturu
// Novákovi na 15k za konzultace" into a Draft.
func (e *Extractor) ExtractInvoiceFields(ctx context.Context, text string) (invoicing.Draft, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return invoicing.Draft{}, fmt.Errorf("%w: empty text", ErrExtractionFailed)
	}
	if e.completer == nil {
		return invoicing.Draft{}, fmt.Errorf("%w: %w", ErrExtractionFailed, llm.ErrNotConfigured)
	}
	resp, err := e.completer.Complete(ctx, llm.Request{
		System:    invoicePrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: text}},
		JSON:      true,
		MaxTokens: 800,
	})
	if err != nil {
		return invoicing.Draft{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	var dto invoiceDTO
	if err := llm.DecodeJSON(resp.Content, &dto); err != nil {
		return invoicing.Draft{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	d := invoicing.Draft{
		CustomerName:  strings.TrimSpace(dto.CustomerName),
		CustomerICO:   digitsOnly(string(dto.CustomerICO)),
		Amount:        dto.Amount.NullDecimal,
		Currency:      money.ParseCurrency(dto.Currency),
		Notes:         strings.TrimSpace(dto.Notes),
		Description:   strings.TrimSpace(dto.Description),
		ReverseCharge: dto.ReverseCharge,
	}
	if d.CustomerICO == "" {
		if ico, ok := ares.ExtractICO(text); ok {
			d.CustomerICO = ico
		}
	}
	if dto.DueDays.Positive() {
		d.DueDays = int(dto.DueDays.Decimal.IntPart())
	}
	for _, it := range dto.Items {
		desc := strings.TrimSpace(it.Description)
		if desc == "" || !it.UnitPrice.Valid {
			continue
		}
		item := invoicing.DraftItem{
			Description: desc,
			Quantity:    decimal.NewFromInt(1),
			Unit:        strings.TrimSpace(it.Unit),
			UnitPrice:   it.UnitPrice.Decimal,
		}
		if it.Quantity.Positive() {
			item.Quantity = it.Quantity.Decimal
		}
		if it.VATRate.Valid && !it.VATRate.Decimal.IsNegative() {
			rate := it.VATRate.Decimal
			item.VATRate = &rate
		}
		d.Items = append(d.Items, item)
	}
	if d.CustomerName == "" && d.CustomerICO == "" {
		return d, fmt.Errorf("%w: no customer in text", ErrExtractionFailed)
	}
	if len(d.Items) == 0 && !d.Amount.Valid {
		return d, fmt.Errorf("%w: no amount in text", ErrExtractionFailed)
	}
	return d, nil
}

type receiptDTO struct {
	SupplierName string           `json:"supplierName"`
	SupplierICO  flexString       `json:"supplierIco"`
	Category     string           `json:"category"`
	Amount       money.FlexAmount `json:"amount"`
	VATAmount    money.FlexAmount `json:"vatAmount"`
	Total        money.FlexAmount `json:"total"`
	VATRate      money.FlexAmount `json:"vatRate"`
	Currency     string           `json:"currency"`
	Date         string           `json:"date"`
	Description  string           `json:"description"`
}

// ExtractReceiptFields reads a photographed receipt into an expense Draft.
func (e *Extractor) ExtractReceiptFields(ctx context.Context, image llm.Image) (expenses.Draft, error) {
	if len(image.Data) == 0 {
		return expenses.Draft{}, fmt.Errorf("%w: empty image", ErrExtractionFailed)
	}
	if e.completer == nil {
		return expenses.Draft{}, fmt.Errorf("%w: %w", ErrExtractionFailed, llm.ErrNotConfigured)
	}
	resp, err := e.completer.Complete(ctx, llm.Request{
		System: receiptPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: "Přečti údaje z této účtenky.",
			Images:  []llm.Image{image},
		}},
		JSON:      true,
		Vision:    true,
		MaxTokens: 600,
	})
	if err != nil {
		return expenses.Draft{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	var dto receiptDTO
	if err := llm.DecodeJSON(resp.Content, &dto); err != nil {
		return expenses.Draft{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	d := expenses.Draft{
		SupplierName: strings.TrimSpace(dto.SupplierName),
		SupplierICO:  digitsOnly(string(dto.SupplierICO)),
		Category:     strings.ToLower(strings.TrimSpace(dto.Category)),
		Amount:       positive(dto.Amount),
		VATAmount:    dto.VATAmount.NullDecimal,
		Total:        positive(dto.Total),
		Currency:     money.ParseCurrency(dto.Currency),
		Description:  strings.TrimSpace(dto.Description),
		IssuedAt:     findDate(dto.Date),
	}
	if dto.VATRate.Valid && !dto.VATRate.Decimal.IsNegative() {
		rate := dto.VATRate.Decimal
		d.VATRate = &rate
	}
	if !d.Amount.Valid && !d.Total.Valid {
		return d, fmt.Errorf("%w: receipt shows no amount", ErrExtractionFailed)
	}
	return d, nil
}

// flexString accepts a JSON string or number, as models emit symbols both ways.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

func positive(a money.FlexAmount) decimal.NullDecimal {
	if !a.Positive() {
		return decimal.NullDecimal{}
	}
	return a.NullDecimal
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
