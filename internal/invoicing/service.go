package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/customers"
	"github.com/fakturace/fakturace/internal/money"
	"github.com/fakturace/fakturace/internal/shared"
)

const (
	// DefaultDueDays is the payment term applied when a draft names none.
	DefaultDueDays = 14

	numberRetries = 3
)

var (
	// ErrInvalidInput indicates missing or out of range request fields.
	ErrInvalidInput = errors.New("invoicing: invalid input")
	// ErrItemNotFound indicates no line item matched an item change.
	ErrItemNotFound = errors.New("invoicing: item not found")
)

var pagePathPattern = regexp.MustCompile(`^/(?:invoices|faktury)/(\d+)(?:[/?#]|$)`)

// CustomerResolver finds or creates the customer named by a draft.
type CustomerResolver interface {
	Resolve(ctx context.Context, companyID int64, name, ico string) (*customers.Customer, customers.Source, error)
}

// Outcome is the result of a mutation, phrased for the end user.
type Outcome struct {
	Message            string
	Action             *shared.Action
	Invoice            *Invoice
	UsedFallbackTarget bool
}

// Service applies invoice mutations. Every write runs in one transaction.
type Service struct {
	repo      Repository
	customers CustomerResolver
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs Service.
func NewService(repo Repository, resolver CustomerResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		customers: resolver,
		logger:    logger.With(slog.String("component", "invoicing")),
		now:       time.Now,
	}
}

// Get returns an invoice with its items.
func (s *Service) Get(ctx context.Context, companyID, id int64) (*Invoice, error) {
	return s.repo.Get(ctx, companyID, id)
}

// History returns the audit trail of an invoice.
func (s *Service) History(ctx context.Context, companyID, id int64) ([]HistoryEntry, error) {
	if _, err := s.repo.Get(ctx, companyID, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, companyID, id)
}

// ListUnpaid returns the sent and overdue invoices of a company, the pool
// incoming payments are matched against.
func (s *Service) ListUnpaid(ctx context.Context, companyID int64) ([]Invoice, error) {
	return s.repo.ListUnpaid(ctx, companyID)
}

// ResolveTarget picks the invoice a command refers to: the explicit id, then
// the id in the page path, then the newest invoice of the company. The bool
// reports whether the newest-invoice fallback was used. Correct only while a
// single user edits the company's invoices.
func (s *Service) ResolveTarget(ctx context.Context, companyID int64, t Target) (*Invoice, bool, error) {
	if t.InvoiceID > 0 {
		inv, err := s.repo.Get(ctx, companyID, t.InvoiceID)
		return inv, false, err
	}
	if id, ok := InvoiceIDFromPath(t.PagePath); ok {
		inv, err := s.repo.Get(ctx, companyID, id)
		return inv, false, err
	}
	inv, err := s.repo.Latest(ctx, companyID)
	if err != nil {
		return nil, false, err
	}
	return inv, true, nil
}

// InvoiceIDFromPath extracts the id from /invoices/{id} or /faktury/{id}.
func InvoiceIDFromPath(path string) (int64, bool) {
	m := pagePathPattern.FindStringSubmatch(strings.TrimSpace(path))
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// AddItem appends a line item and recomputes the invoice totals.
func (s *Service) AddItem(ctx context.Context, companyID int64, actor string, t Target, in ItemInput) (Outcome, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return Outcome{}, fmt.Errorf("%w: item description is required", ErrInvalidInput)
	}
	if in.Quantity.IsZero() {
		in.Quantity = decimal.NewFromInt(1)
	}
	if in.Quantity.IsNegative() || in.UnitPrice.IsNegative() {
		return Outcome{}, fmt.Errorf("%w: quantity and unit price must not be negative", ErrInvalidInput)
	}

	target, fallback, err := s.ResolveTarget(ctx, companyID, t)
	if err != nil {
		return Outcome{}, err
	}

	var updated *Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, companyID, target.ID)
		if err != nil {
			return err
		}
		item := Item{
			InvoiceID:   inv.ID,
			Position:    len(inv.Items) + 1,
			Description: in.Description,
			Quantity:    in.Quantity,
			Unit:        defaultUnit(in.Unit),
			UnitPrice:   in.UnitPrice,
			VATRate:     itemVATRate(in.VATRate, inv.ReverseCharge),
			Total:       LineTotal(in.Quantity, in.UnitPrice),
		}
		if item.ID, err = tx.InsertItem(ctx, item); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		inv.Items = append(inv.Items, item)
		if err := s.applyTotals(ctx, tx, inv); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, HistoryEntry{
			InvoiceID:   inv.ID,
			Action:      HistoryUpdated,
			Description: fmt.Sprintf("Přidána položka %q", item.Description),
			Actor:       actor,
		}); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	msg := fmt.Sprintf("Položka „%s“ byla přidána na fakturu %s. Celková částka je nyní %s.",
		in.Description, updated.Number, money.Format(updated.Total, updated.Currency))
	return s.outcome(updated, t, fallback, msg), nil
}

// Update applies one category of change to the target invoice.
func (s *Service) Update(ctx context.Context, companyID int64, actor string, t Target, req UpdateRequest) (Outcome, error) {
	if err := validateUpdate(req); err != nil {
		return Outcome{}, err
	}
	target, fallback, err := s.ResolveTarget(ctx, companyID, t)
	if err != nil {
		return Outcome{}, err
	}

	var (
		updated *Invoice
		msg     string
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, companyID, target.ID)
		if err != nil {
			return err
		}
		entry := HistoryEntry{InvoiceID: inv.ID, Action: HistoryUpdated, Actor: actor}

		switch req.Type {
		case UpdateDueDate:
			due := truncateDay(req.DueDate)
			if err := tx.UpdateFields(ctx, inv.ID, map[string]any{"due_date": due}); err != nil {
				return err
			}
			inv.DueDate = due
			entry.Description = "Změněno datum splatnosti na " + due.Format("2.1.2006")
			msg = fmt.Sprintf("Datum splatnosti faktury %s je nyní %s.", inv.Number, due.Format("2.1.2006"))

		case UpdateNotes:
			notes := strings.TrimSpace(req.Notes)
			if inv.Notes != "" {
				notes = inv.Notes + "\n\n" + notes
			}
			if err := tx.UpdateFields(ctx, inv.ID, map[string]any{"notes": notes}); err != nil {
				return err
			}
			inv.Notes = notes
			entry.Description = "Doplněna poznámka"
			msg = fmt.Sprintf("Poznámka byla doplněna na fakturu %s.", inv.Number)

		case UpdateCustomerContact:
			if err := tx.UpdateCustomerContact(ctx, companyID, inv.CustomerID, req.Contact); err != nil {
				return fmt.Errorf("update customer contact: %w", err)
			}
			entry.Description = "Aktualizovány kontaktní údaje odběratele"
			msg = fmt.Sprintf("Kontaktní údaje odběratele %s byly aktualizovány.", inv.CustomerName)

		case UpdatePaymentDetails:
			updates := map[string]any{}
			if v := strings.TrimSpace(req.Payment.BankAccount); v != "" {
				updates["bank_account"] = v
				inv.BankAccount = v
			}
			if v := strings.ToUpper(strings.ReplaceAll(req.Payment.IBAN, " ", "")); v != "" {
				updates["iban"] = v
				inv.IBAN = v
			}
			if err := tx.UpdateFields(ctx, inv.ID, updates); err != nil {
				return err
			}
			entry.Description = "Změněny platební údaje"
			msg = fmt.Sprintf("Platební údaje faktury %s byly změněny.", inv.Number)

		case UpdateStatus:
			to, err := ParseStatus(req.Status)
			if err != nil {
				s.logger.Warn("unknown invoice status", slog.Int64("invoice_id", inv.ID), slog.String("status", req.Status))
				return err
			}
			if err := s.transition(ctx, tx, inv, to); err != nil {
				return err
			}
			entry.Action = historyActionFor(to)
			entry.Description = "Stav změněn na " + to.Label()
			msg = fmt.Sprintf("Faktura %s má nyní stav „%s“.", inv.Number, to.Label())

		case UpdateItem:
			item, err := findItem(inv.Items, req.Item)
			if err != nil {
				return err
			}
			if req.Item.Quantity != nil {
				item.Quantity = *req.Item.Quantity
			}
			if req.Item.UnitPrice != nil {
				item.UnitPrice = *req.Item.UnitPrice
			}
			item.Total = LineTotal(item.Quantity, item.UnitPrice)
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return fmt.Errorf("update item: %w", err)
			}
			if err := s.applyTotals(ctx, tx, inv); err != nil {
				return err
			}
			entry.Description = fmt.Sprintf("Upravena položka %q", item.Description)
			msg = fmt.Sprintf("Položka „%s“ byla upravena. Celková částka faktury %s je nyní %s.",
				item.Description, inv.Number, money.Format(inv.Total, inv.Currency))
		}

		if err := tx.AppendHistory(ctx, entry); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return s.outcome(updated, t, fallback, msg), nil
}

// ChangeStatus moves the target invoice to the named status.
func (s *Service) ChangeStatus(ctx context.Context, companyID int64, actor string, t Target, status string) (Outcome, error) {
	return s.Update(ctx, companyID, actor, t, UpdateRequest{Type: UpdateStatus, Status: status})
}

func (s *Service) transition(ctx context.Context, tx TxRepository, inv *Invoice, to Status) error {
	if !CanTransition(inv.Status, to) {
		s.logger.Warn("rejected invoice status transition",
			slog.Int64("invoice_id", inv.ID),
			slog.String("from", string(inv.Status)),
			slog.String("to", string(to)))
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, inv.Status, to)
	}
	if inv.Status == to {
		return nil
	}
	updates := map[string]any{"status": to}
	switch {
	case to == StatusPaid:
		now := s.now()
		updates["paid_at"] = &now
		updates["paid_amount"] = decimal.NewNullDecimal(inv.Total)
		inv.PaidAt = &now
		inv.PaidAmount = decimal.NewNullDecimal(inv.Total)
	case inv.Status == StatusPaid:
		updates["paid_at"] = (*time.Time)(nil)
		updates["paid_amount"] = decimal.NullDecimal{}
		inv.PaidAt = nil
		inv.PaidAmount = decimal.NullDecimal{}
	}
	if err := tx.UpdateFields(ctx, inv.ID, updates); err != nil {
		return err
	}
	inv.Status = to
	return nil
}

// CreateFromDraft resolves the customer and creates a draft invoice.
func (s *Service) CreateFromDraft(ctx context.Context, companyID int64, actor string, d Draft) (Outcome, error) {
	items, err := draftItems(d)
	if err != nil {
		return Outcome{}, err
	}
	customer, source, err := s.customers.Resolve(ctx, companyID, d.CustomerName, d.CustomerICO)
	if err != nil {
		if errors.Is(err, customers.ErrCustomerRequired) {
			return Outcome{}, fmt.Errorf("%w: customer is required", ErrInvalidInput)
		}
		return Outcome{}, fmt.Errorf("resolve customer: %w", err)
	}

	issue := truncateDay(s.now())
	dueDays := d.DueDays
	if dueDays <= 0 {
		dueDays = DefaultDueDays
	}
	for i := range items {
		items[i].VATRate = itemVATRate(&items[i].VATRate, d.ReverseCharge)
		items[i].Position = i + 1
	}
	totals := ComputeTotals(items, d.ReverseCharge)

	inv := Invoice{
		CompanyID:     companyID,
		CustomerID:    customer.ID,
		CustomerName:  customer.Name,
		IssueDate:     issue,
		DueDate:       issue.AddDate(0, 0, dueDays),
		Currency:      money.ParseCurrency(d.Currency),
		Subtotal:      totals.Subtotal,
		VATAmount:     totals.VATAmount,
		Total:         totals.Total,
		Status:        StatusDraft,
		Notes:         strings.TrimSpace(d.Notes),
		ReverseCharge: d.ReverseCharge,
	}

	for attempt := 1; ; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			number, err := tx.NextNumber(ctx, companyID, issue.Year())
			if err != nil {
				return fmt.Errorf("next number: %w", err)
			}
			inv.Number = number
			inv.VariableSymbol = number
			if inv.ID, err = tx.InsertInvoice(ctx, inv); err != nil {
				return err
			}
			inv.Items = make([]Item, 0, len(items))
			for _, it := range items {
				it.InvoiceID = inv.ID
				if it.ID, err = tx.InsertItem(ctx, it); err != nil {
					return fmt.Errorf("insert item: %w", err)
				}
				inv.Items = append(inv.Items, it)
			}
			return tx.AppendHistory(ctx, HistoryEntry{
				InvoiceID:   inv.ID,
				Action:      HistoryCreated,
				Description: "Faktura vytvořena",
				Actor:       actor,
			})
		})
		if !errors.Is(err, ErrDuplicateNumber) || attempt >= numberRetries {
			break
		}
		s.logger.Warn("invoice number collision, retrying", slog.Int64("company_id", companyID), slog.Int("attempt", attempt))
	}
	if err != nil {
		return Outcome{}, err
	}

	s.logger.Info("invoice created",
		slog.Int64("company_id", companyID),
		slog.Int64("invoice_id", inv.ID),
		slog.String("customer_source", string(source)))

	msg := fmt.Sprintf("Faktura %s pro %s byla vytvořena jako koncept. Celkem %s, splatnost %s.",
		inv.Number, customer.Name, money.Format(inv.Total, inv.Currency), inv.DueDate.Format("2.1.2006"))
	if source == customers.SourceCreated {
		msg += " Odběratel byl nově založen, doplňte prosím jeho údaje."
	}
	return Outcome{Message: msg, Action: shared.Navigate("/invoices/%d", inv.ID), Invoice: &inv}, nil
}

// MarkOverdue moves sent invoices due before asOf to overdue and returns
// how many changed. Failures on single invoices do not stop the sweep.
func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	candidates, err := s.repo.ListOverdue(ctx, truncateDay(asOf))
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}
	var (
		changed int
		errs    []error
	)
	for _, c := range candidates {
		moved := false
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			inv, err := tx.LockInvoice(ctx, c.CompanyID, c.ID)
			if err != nil {
				return err
			}
			if inv.Status != StatusSent {
				return nil
			}
			if err := s.transition(ctx, tx, inv, StatusOverdue); err != nil {
				return err
			}
			if err := tx.AppendHistory(ctx, HistoryEntry{
				InvoiceID:   inv.ID,
				Action:      HistoryOverdue,
				Description: "Faktura je po splatnosti",
				Actor:       shared.SystemActor,
			}); err != nil {
				return err
			}
			moved = true
			return nil
		})
		if err != nil {
			s.logger.Error("mark overdue", slog.Int64("invoice_id", c.ID), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		if moved {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

func (s *Service) applyTotals(ctx context.Context, tx TxRepository, inv *Invoice) error {
	totals := ComputeTotals(inv.Items, inv.ReverseCharge)
	if err := tx.UpdateTotals(ctx, inv.ID, totals); err != nil {
		return fmt.Errorf("update totals: %w", err)
	}
	inv.Subtotal = totals.Subtotal
	inv.VATAmount = totals.VATAmount
	inv.Total = totals.Total
	return nil
}

func (s *Service) outcome(inv *Invoice, t Target, fallback bool, msg string) Outcome {
	action := shared.Navigate("/invoices/%d", inv.ID)
	if id, ok := InvoiceIDFromPath(t.PagePath); ok && id == inv.ID {
		action = shared.Refresh()
	}
	if fallback {
		msg += fmt.Sprintf(" (Upravena byla poslední faktura %s.)", inv.Number)
	}
	return Outcome{Message: msg, Action: action, Invoice: inv, UsedFallbackTarget: fallback}
}

func validateUpdate(req UpdateRequest) error {
	switch req.Type {
	case UpdateDueDate:
		if req.DueDate.IsZero() {
			return fmt.Errorf("%w: due date is required", ErrInvalidInput)
		}
	case UpdateNotes:
		if strings.TrimSpace(req.Notes) == "" {
			return fmt.Errorf("%w: notes are required", ErrInvalidInput)
		}
	case UpdateCustomerContact:
		c := req.Contact
		if c.Email == "" && c.Phone == "" && c.ContactPerson == "" && c.Address == "" {
			return fmt.Errorf("%w: at least one contact field is required", ErrInvalidInput)
		}
	case UpdatePaymentDetails:
		if strings.TrimSpace(req.Payment.BankAccount) == "" && strings.TrimSpace(req.Payment.IBAN) == "" {
			return fmt.Errorf("%w: bank account or IBAN is required", ErrInvalidInput)
		}
	case UpdateStatus:
		if strings.TrimSpace(req.Status) == "" {
			return fmt.Errorf("%w: status is required", ErrInvalidInput)
		}
	case UpdateItem:
		ch := req.Item
		if ch.ItemID <= 0 && strings.TrimSpace(ch.Description) == "" {
			return fmt.Errorf("%w: item id or description is required", ErrInvalidInput)
		}
		if ch.Quantity == nil && ch.UnitPrice == nil {
			return fmt.Errorf("%w: quantity or unit price is required", ErrInvalidInput)
		}
		if (ch.Quantity != nil && !ch.Quantity.IsPositive()) || (ch.UnitPrice != nil && ch.UnitPrice.IsNegative()) {
			return fmt.Errorf("%w: quantity must be positive and unit price not negative", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown update type %q", ErrInvalidInput, req.Type)
	}
	return nil
}

func findItem(items []Item, ch ItemChange) (*Item, error) {
	if ch.ItemID > 0 {
		for i := range items {
			if items[i].ID == ch.ItemID {
				return &items[i], nil
			}
		}
		return nil, ErrItemNotFound
	}
	want := shared.Fold(ch.Description)
	for i := range items {
		if shared.Fold(items[i].Description) == want {
			return &items[i], nil
		}
	}
	for i := range items {
		if strings.Contains(shared.Fold(items[i].Description), want) {
			return &items[i], nil
		}
	}
	return nil, ErrItemNotFound
}

func draftItems(d Draft) ([]Item, error) {
	if len(d.Items) == 0 {
		if !d.Amount.Valid || !d.Amount.Decimal.IsPositive() {
			return nil, fmt.Errorf("%w: items or amount are required", ErrInvalidInput)
		}
		desc := strings.TrimSpace(d.Description)
		if desc == "" {
			desc = "Služby"
		}
		d.Items = []DraftItem{{Description: desc, Quantity: decimal.NewFromInt(1), UnitPrice: d.Amount.Decimal}}
	}
	items := make([]Item, 0, len(d.Items))
	for _, di := range d.Items {
		desc := strings.TrimSpace(di.Description)
		if desc == "" {
			return nil, fmt.Errorf("%w: item description is required", ErrInvalidInput)
		}
		qty := di.Quantity
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		if qty.IsNegative() || di.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: quantity and unit price must not be negative", ErrInvalidInput)
		}
		rate := money.DefaultVATRate
		if di.VATRate != nil && !di.VATRate.IsNegative() {
			rate = *di.VATRate
		}
		items = append(items, Item{
			Description: desc,
			Quantity:    qty,
			Unit:        defaultUnit(di.Unit),
			UnitPrice:   di.UnitPrice,
			VATRate:     rate,
			Total:       LineTotal(qty, di.UnitPrice),
		})
	}
	return items, nil
}

func defaultUnit(unit string) string {
	if u := strings.TrimSpace(unit); u != "" {
		return u
	}
	return "ks"
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
