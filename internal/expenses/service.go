package expenses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/money"
	"github.com/fakturace/fakturace/internal/shared"
)

// ErrInvalidInput indicates a draft without any usable amount.
var ErrInvalidInput = errors.New("expenses: invalid input")

const unknownSupplier = "Neznámý dodavatel"

// Outcome is the user-facing result of creating an expense.
type Outcome struct {
	Message string
	Action  *shared.Action
	Expense *Expense
}

// Service creates expenses.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger.With(slog.String("component", "expenses")), now: time.Now}
}

// Get returns a single expense.
func (s *Service) Get(ctx context.Context, companyID, id int64) (*Expense, error) {
	return s.repo.Get(ctx, companyID, id)
}

// CreateFromDraft completes missing amounts and stores an unpaid expense.
func (s *Service) CreateFromDraft(ctx context.Context, companyID int64, d Draft) (Outcome, error) {
	amount, vat, total, err := completeAmounts(d)
	if err != nil {
		return Outcome{}, err
	}
	e := Expense{
		CompanyID:         companyID,
		SupplierName:      strings.TrimSpace(d.SupplierName),
		SupplierICO:       strings.TrimSpace(d.SupplierICO),
		Category:          strings.TrimSpace(d.Category),
		Amount:            amount,
		VATAmount:         vat,
		Total:             total,
		Currency:          money.ParseCurrency(d.Currency),
		Status:            StatusUnpaid,
		IssuedAt:          d.IssuedAt,
		Description:       strings.TrimSpace(d.Description),
		ReceiptAttachment: d.ReceiptAttachment,
	}
	if e.SupplierName == "" {
		e.SupplierName = unknownSupplier
	}
	if e.Category == "" {
		e.Category = DefaultCategory
	}
	if e.IssuedAt.IsZero() {
		y, m, day := s.now().Date()
		e.IssuedAt = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	}

	id, err := s.repo.Create(ctx, e)
	if err != nil {
		return Outcome{}, fmt.Errorf("create expense: %w", err)
	}
	e.ID = id
	e.CreatedAt = s.now()
	s.logger.Info("expense created", slog.Int64("company_id", companyID), slog.Int64("expense_id", id))

	return Outcome{
		Message: fmt.Sprintf("Výdaj od %s na %s byl zaevidován (kategorie %s).",
			e.SupplierName, money.Format(e.Total, e.Currency), e.Category),
		Action:  shared.Navigate("/expenses/%d", id),
		Expense: &e,
	}, nil
}

func completeAmounts(d Draft) (amount, vat, total decimal.Decimal, err error) {
	rate := money.DefaultVATRate
	if d.VATRate != nil && !d.VATRate.IsNegative() {
		rate = *d.VATRate
	}
	switch {
	case d.Amount.Valid && d.Total.Valid:
		amount, total = d.Amount.Decimal, d.Total.Decimal
		vat = total.Sub(amount)
		if d.VATAmount.Valid {
			vat = d.VATAmount.Decimal
		}
	case d.Amount.Valid && d.VATAmount.Valid:
		amount, vat = d.Amount.Decimal, d.VATAmount.Decimal
		total = amount.Add(vat)
	case d.Total.Valid && d.VATAmount.Valid:
		total, vat = d.Total.Decimal, d.VATAmount.Decimal
		amount = total.Sub(vat)
	case d.Total.Valid:
		total = d.Total.Decimal
		amount = money.Round(total.Div(decimal.NewFromInt(100).Add(rate)).Mul(decimal.NewFromInt(100)))
		vat = total.Sub(amount)
	case d.Amount.Valid:
		amount = d.Amount.Decimal
		vat = money.VAT(amount, rate)
		total = amount.Add(vat)
	default:
		return amount, vat, total, fmt.Errorf("%w: receipt carries no amount", ErrInvalidInput)
	}
	if !total.IsPositive() || amount.IsNegative() || vat.IsNegative() {
		return amount, vat, total, fmt.Errorf("%w: amounts must be positive", ErrInvalidInput)
	}
	return money.Round(amount), money.Round(vat), money.Round(total), nil
}
