package invoicing

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakturace/fakturace/internal/customers"
	"github.com/fakturace/fakturace/internal/money"
	"github.com/fakturace/fakturace/internal/shared"
)

type memoryState struct {
	invoices map[int64]*Invoice
	history  []HistoryEntry
	contacts map[int64]CustomerContact
	nextID   int64
	numbers  map[int64]int
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		invoices: make(map[int64]*Invoice, len(s.invoices)),
		history:  append([]HistoryEntry(nil), s.history...),
		contacts: make(map[int64]CustomerContact, len(s.contacts)),
		nextID:   s.nextID,
		numbers:  make(map[int64]int, len(s.numbers)),
	}
	for id, inv := range s.invoices {
		cp := *inv
		cp.Items = append([]Item(nil), inv.Items...)
		c.invoices[id] = &cp
	}
	for k, v := range s.contacts {
		c.contacts[k] = v
	}
	for k, v := range s.numbers {
		c.numbers[k] = v
	}
	return c
}

// memoryRepo applies a transaction to a copy of the state and keeps it only
// when fn succeeds.
type memoryRepo struct {
	state       *memoryState
	failHistory bool
	failInsert  error
}

func newMemoryRepo(seed ...Invoice) *memoryRepo {
	st := &memoryState{
		invoices: make(map[int64]*Invoice),
		contacts: make(map[int64]CustomerContact),
		nextID:   100,
		numbers:  make(map[int64]int),
	}
	for _, inv := range seed {
		inv := inv
		if inv.CreatedAt.IsZero() {
			inv.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(inv.ID) * time.Hour)
		}
		st.invoices[inv.ID] = &inv
	}
	return &memoryRepo{state: st}
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	working := m.state.clone()
	if err := fn(ctx, &memoryTx{repo: m, state: working}); err != nil {
		return err
	}
	m.state = working
	return nil
}

func getFrom(st *memoryState, companyID, id int64) (*Invoice, error) {
	inv, ok := st.invoices[id]
	if !ok || inv.CompanyID != companyID {
		return nil, ErrNotFound
	}
	cp := *inv
	cp.Items = append([]Item(nil), inv.Items...)
	return &cp, nil
}

func (m *memoryRepo) Get(ctx context.Context, companyID, id int64) (*Invoice, error) {
	return getFrom(m.state, companyID, id)
}

func (m *memoryRepo) Latest(ctx context.Context, companyID int64) (*Invoice, error) {
	var latest *Invoice
	for _, inv := range m.state.invoices {
		if inv.CompanyID != companyID {
			continue
		}
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return getFrom(m.state, companyID, latest.ID)
}

func (m *memoryRepo) sorted(keep func(*Invoice) bool) []Invoice {
	var out []Invoice
	for _, inv := range m.state.invoices {
		if keep(inv) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryRepo) ListUnpaid(ctx context.Context, companyID int64) ([]Invoice, error) {
	return m.sorted(func(inv *Invoice) bool {
		return inv.CompanyID == companyID && (inv.Status == StatusSent || inv.Status == StatusOverdue)
	}), nil
}

func (m *memoryRepo) ListOverdue(ctx context.Context, asOf time.Time) ([]Invoice, error) {
	return m.sorted(func(inv *Invoice) bool {
		return inv.Status == StatusSent && inv.DueDate.Before(asOf)
	}), nil
}

func (m *memoryRepo) History(ctx context.Context, companyID, invoiceID int64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for _, h := range m.state.history {
		if h.InvoiceID == invoiceID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (t *memoryTx) LockInvoice(ctx context.Context, companyID, id int64) (*Invoice, error) {
	return getFrom(t.state, companyID, id)
}

func (t *memoryTx) NextNumber(ctx context.Context, companyID int64, year int) (string, error) {
	t.state.numbers[companyID]++
	return decimal.NewFromInt(int64(year*10000 + t.state.numbers[companyID])).String(), nil
}

func (t *memoryTx) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	if t.repo.failInsert != nil {
		err := t.repo.failInsert
		t.repo.failInsert = nil
		return 0, err
	}
	t.state.nextID++
	inv.ID = t.state.nextID
	inv.CreatedAt = time.Now()
	t.state.invoices[inv.ID] = &inv
	return inv.ID, nil
}

func (t *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	inv, ok := t.state.invoices[item.InvoiceID]
	if !ok {
		return 0, ErrNotFound
	}
	t.state.nextID++
	item.ID = t.state.nextID
	inv.Items = append(inv.Items, item)
	return item.ID, nil
}

func (t *memoryTx) UpdateItem(ctx context.Context, item Item) error {
	inv, ok := t.state.invoices[item.InvoiceID]
	if !ok {
		return ErrNotFound
	}
	for i := range inv.Items {
		if inv.Items[i].ID == item.ID {
			inv.Items[i] = item
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) UpdateTotals(ctx context.Context, invoiceID int64, totals Totals) error {
	inv := t.state.invoices[invoiceID]
	inv.Subtotal, inv.VATAmount, inv.Total = totals.Subtotal, totals.VATAmount, totals.Total
	return nil
}

func (t *memoryTx) UpdateFields(ctx context.Context, invoiceID int64, updates map[string]any) error {
	inv, ok := t.state.invoices[invoiceID]
	if !ok {
		return ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "due_date":
			inv.DueDate = v.(time.Time)
		case "notes":
			inv.Notes = v.(string)
		case "status":
			inv.Status = v.(Status)
		case "paid_at":
			inv.PaidAt = v.(*time.Time)
		case "paid_amount":
			inv.PaidAmount = v.(decimal.NullDecimal)
		case "bank_account":
			inv.BankAccount = v.(string)
		case "iban":
			inv.IBAN = v.(string)
		default:
			return errors.New("unexpected column " + k)
		}
	}
	return nil
}

func (t *memoryTx) UpdateCustomerContact(ctx context.Context, companyID, customerID int64, contact CustomerContact) error {
	t.state.contacts[customerID] = contact
	return nil
}

func (t *memoryTx) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	if t.repo.failHistory {
		return errors.New("history insert failed")
	}
	t.state.history = append(t.state.history, entry)
	return nil
}

type stubResolver struct {
	customer customers.Customer
	source   customers.Source
	err      error
	calls    int
}

func (s *stubResolver) Resolve(ctx context.Context, companyID int64, name, ico string) (*customers.Customer, customers.Source, error) {
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	c := s.customer
	c.CompanyID = companyID
	return &c, s.source, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func invoiceWithItem() Invoice {
	return Invoice{
		ID:        7,
		CompanyID: 1,
		Number:    "20250007",
		Currency:  "CZK",
		Status:    StatusSent,
		Subtotal:  d("500"),
		VATAmount: d("105"),
		Total:     d("605"),
		DueDate:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Items: []Item{{
			ID: 70, InvoiceID: 7, Position: 1, Description: "Konzultace",
			Quantity: d("1"), Unit: "hod", UnitPrice: d("500"), VATRate: d("21"), Total: d("500"),
		}},
	}
}

func newTestService(repo *memoryRepo, resolver CustomerResolver) *Service {
	svc := NewService(repo, resolver, nil)
	svc.now = func() time.Time { return time.Date(2025, 5, 10, 15, 4, 0, 0, time.UTC) }
	return svc
}

func assertTotalsConsistent(t *testing.T, inv *Invoice) {
	t.Helper()
	assert.True(t, money.WithinTolerance(inv.Subtotal.Add(inv.VATAmount), inv.Total),
		"subtotal %s + vat %s != total %s", inv.Subtotal, inv.VATAmount, inv.Total)
}

func TestAddItemRecomputesTotals(t *testing.T) {
	repo := newMemoryRepo(invoiceWithItem())
	svc := newTestService(repo, nil)

	out, err := svc.AddItem(context.Background(), 1, "42", Target{InvoiceID: 7}, ItemInput{
		Description: "Vývoj", Quantity: d("2"), UnitPrice: d("1000"),
	})
	require.NoError(t, err)

	inv := out.Invoice
	assert.True(t, inv.Subtotal.Equal(d("2500")), inv.Subtotal.String())
	assert.True(t, inv.VATAmount.Equal(d("525")), inv.VATAmount.String())
	assert.True(t, inv.Total.Equal(d("3025")), inv.Total.String())
	assertTotalsConsistent(t, inv)
	assert.False(t, out.UsedFallbackTarget)
	assert.Contains(t, out.Message, "3 025,00 Kč")
	assert.Equal(t, shared.Navigate("/invoices/7"), out.Action)

	stored, err := repo.Get(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, 2, stored.Items[1].Position)
	assert.True(t, stored.Items[1].VATRate.Equal(d("21")))

	history, _ := repo.History(context.Background(), 1, 7)
	require.Len(t, history, 1)
	assert.Equal(t, HistoryUpdated, history[0].Action)
	assert.Equal(t, "42", history[0].Actor)
}

func TestAddItemUsesItemRateAndReverseCharge(t *testing.T) {
	inv := invoiceWithItem()
	repo := newMemoryRepo(inv)
	svc := newTestService(repo, nil)
	reduced := d("12")

	out, err := svc.AddItem(context.Background(), 1, "1", Target{InvoiceID: 7}, ItemInput{
		Description: "Kniha", Quantity: d("1"), UnitPrice: d("100"), VATRate: &reduced,
	})
	require.NoError(t, err)
	assert.True(t, out.Invoice.VATAmount.Equal(d("117")), out.Invoice.VATAmount.String())

	rc := invoiceWithItem()
	rc.ReverseCharge = true
	rc.VATAmount = decimal.Zero
	rc.Total = d("500")
	rc.Items[0].VATRate = decimal.Zero
	repo = newMemoryRepo(rc)
	svc = newTestService(repo, nil)
	out, err = svc.AddItem(context.Background(), 1, "1", Target{InvoiceID: 7}, ItemInput{
		Description: "Montáž", Quantity: d("1"), UnitPrice: d("300"),
	})
	require.NoError(t, err)
	assert.True(t, out.Invoice.VATAmount.IsZero())
	assert.True(t, out.Invoice.Total.Equal(d("800")))
}

func TestAddItemRollsBackOnHistoryFailure(t *testing.T) {
	repo := newMemoryRepo(invoiceWithItem())
	repo.failHistory = true
	svc := newTestService(repo, nil)

	_, err := svc.AddItem(context.Background(), 1, "1", Target{InvoiceID: 7}, ItemInput{Description: "X", UnitPrice: d("10")})
	require.Error(t, err)

	stored, _ := repo.Get(context.Background(), 1, 7)
	assert.Len(t, stored.Items, 1)
	assert.True(t, stored.Total.Equal(d("605")))
}

func TestAddItemValidatesInput(t *testing.T) {
	svc := newTestService(newMemoryRepo(invoiceWithItem()), nil)
	_, err := svc.AddItem(context.Background(), 1, "1", Target{InvoiceID: 7}, ItemInput{Description: " "})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.AddItem(context.Background(), 1, "1", Target{InvoiceID: 7}, ItemInput{Description: "A", UnitPrice: d("-1")})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestResolveTargetOrder(t *testing.T) {
	older := invoiceWithItem()
	newer := invoiceWithItem()
	newer.ID = 9
	newer.Number = "20250009"
	repo := newMemoryRepo(older, newer)
	svc := newTestService(repo, nil)
	ctx := context.Background()

	inv, fallback, err := svc.ResolveTarget(ctx, 1, Target{InvoiceID: 7, PagePath: "/invoices/9"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), inv.ID)
	assert.False(t, fallback)

	inv, fallback, err = svc.ResolveTarget(ctx, 1, Target{PagePath: "/faktury/7/upravit"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), inv.ID)
	assert.False(t, fallback)

	inv, fallback, err = svc.ResolveTarget(ctx, 1, Target{PagePath: "/dashboard"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), inv.ID)
	assert.True(t, fallback)

	_, _, err = svc.ResolveTarget(ctx, 2, Target{})
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = svc.ResolveTarget(ctx, 2, Target{InvoiceID: 7})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFallbackTargetIsReported(t *testing.T) {
	svc := newTestService(newMemoryRepo(invoiceWithItem()), nil)
	out, err := svc.Update(context.Background(), 1, "1", Target{}, UpdateRequest{Type: UpdateNotes, Notes: "Děkujeme"})
	require.NoError(t, err)
	assert.True(t, out.UsedFallbackTarget)
	assert.Contains(t, out.Message, "poslední faktura 20250007")
}

func TestUpdateNotesAppends(t *testing.T) {
	inv := invoiceWithItem()
	inv.Notes = "První"
	repo := newMemoryRepo(inv)
	svc := newTestService(repo, nil)

	out, err := svc.Update(context.Background(), 1, "1", Target{PagePath: "/invoices/7"}, UpdateRequest{Type: UpdateNotes, Notes: " Druhá "})
	require.NoError(t, err)
	assert.Equal(t, "První\n\nDruhá", out.Invoice.Notes)
	assert.Equal(t, shared.Refresh(), out.Action)

	stored, _ := repo.Get(context.Background(), 1, 7)
	assert.Equal(t, "První\n\nDruhá", stored.Notes)
}

func TestUpdateDueDateAndPaymentDetails(t *testing.T) {
	repo := newMemoryRepo(invoiceWithItem())
	svc := newTestService(repo, nil)
	ctx := context.Background()

	due := time.Date(2025, 6, 30, 13, 0, 0, 0, time.UTC)
	_, err := svc.Update(ctx, 1, "1", Target{InvoiceID: 7}, UpdateRequest{Type: UpdateDueDate, DueDate: due})
	require.NoError(t, err)

	_, err = svc.Update(ctx, 1, "1", Target{InvoiceID: 7}, UpdateRequest{
		Type:    UpdatePaymentDetails,
		Payment: PaymentDetails{IBAN: "cz65 0800 0000 1920 0014 5399"},
	})
	require.NoError(t, err)

	stored, _ := repo.Get(ctx, 1, 7)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), stored.DueDate)
	assert.Equal(t, "CZ6508000000192000145399", stored.IBAN)

	_, err = svc.Update(ctx, 1, "1", Target{InvoiceID: 7}, UpdateRequest{Type: UpdateDueDate})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Update(ctx, 1, "1", Target{InvoiceID: 7}, UpdateRequest{Type: "discount"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateCustomerContact(t *testing.T) {
	inv := invoiceWithItem()
	inv.CustomerID = 3
	repo := newMemoryRepo(inv)
	svc := newTestService(repo, nil)

	_, err := svc.Update(context.Background(), 1, "1", Target{InvoiceID: 7}, UpdateRequest{
		Type:    UpdateCustomerContact,
		Contact: CustomerContact{Email: "ucetni@firma.cz"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ucetni@firma.cz", repo.state.contacts[3].Email)
}

func TestUpdateItemByDescription(t *testing.T) {
	repo := newMemoryRepo(invoiceWithItem())
	svc := newTestService(repo, nil)
	qty := d("3")

	out, err := svc.Update(context.Background(), 1, "1", Target{InvoiceID: 7}, UpdateRequest{
		Type: UpdateItem,
		Item: ItemChange{Description: "konzultace", Quantity: &qty},
	})
	require.NoError(t, err)
	assert.True(t, out.Invoice.Subtotal.Equal(d("1500")))
	assert.True(t, out.Invoice.Total.Equal(d("1815")))
	assertTotalsConsistent(t, out.Invoice)

	_, err = svc.Update(context.Background(), 1, "1", Target{InvoiceID: 7}, UpdateRequest{
		Type: UpdateItem,
		Item: ItemChange{Description: "hosting", Quantity: &qty},
	})
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestChangeStatusTransitions(t *testing.T) {
	repo := newMemoryRepo(invoiceWithItem())
	svc := newTestService(repo, nil)
	ctx := context.Background()

	out, err := svc.ChangeStatus(ctx, 1, "1", Target{InvoiceID: 7}, "zaplacená")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.Invoice.Status)
	require.NotNil(t, out.Invoice.PaidAt)
	assert.True(t, out.Invoice.PaidAmount.Decimal.Equal(d("605")))

	_, err = svc.ChangeStatus(ctx, 1, "1", Target{InvoiceID: 7}, "overdue")
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.ChangeStatus(ctx, 1, "1", Target{InvoiceID: 7}, "stornovaná")
	require.ErrorIs(t, err, ErrInvalidStatus)

	out, err = svc.ChangeStatus(ctx, 1, "1", Target{InvoiceID: 7}, "odeslaná")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, out.Invoice.Status)
	assert.Nil(t, out.Invoice.PaidAt)
	assert.False(t, out.Invoice.PaidAmount.Valid)

	history, _ := repo.History(ctx, 1, 7)
	require.Len(t, history, 2)
	assert.Equal(t, HistoryPaid, history[0].Action)
	assert.Equal(t, HistorySent, history[1].Action)
}

func TestCreateFromDraftWithItems(t *testing.T) {
	repo := newMemoryRepo()
	resolver := &stubResolver{customer: customers.Customer{ID: 3, Name: "Novák Stavby s.r.o."}, source: customers.SourceExact}
	svc := newTestService(repo, resolver)

	out, err := svc.CreateFromDraft(context.Background(), 1, "5", Draft{
		CustomerName: "Novák",
		Items: []DraftItem{
			{Description: "Konzultace", Quantity: d("1"), UnitPrice: d("500")},
			{Description: "Vývoj", Quantity: d("2"), UnitPrice: d("1000")},
		},
	})
	require.NoError(t, err)

	inv := out.Invoice
	assert.Equal(t, StatusDraft, inv.Status)
	assert.Equal(t, "20250001", inv.Number)
	assert.Equal(t, inv.Number, inv.VariableSymbol)
	assert.Equal(t, int64(3), inv.CustomerID)
	assert.Equal(t, "CZK", inv.Currency)
	assert.Equal(t, time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), inv.IssueDate)
	assert.Equal(t, time.Date(2025, 5, 24, 0, 0, 0, 0, time.UTC), inv.DueDate)
	assert.True(t, inv.Total.Equal(d("3025")))
	assertTotalsConsistent(t, inv)
	assert.Equal(t, shared.Navigate("/invoices/%d", inv.ID), out.Action)
	assert.NotContains(t, out.Message, "nově založen")

	stored, err := repo.Get(context.Background(), 1, inv.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
	history, _ := repo.History(context.Background(), 1, inv.ID)
	require.Len(t, history, 1)
	assert.Equal(t, HistoryCreated, history[0].Action)
}

func TestCreateFromDraftWithAmountOnly(t *testing.T) {
	resolver := &stubResolver{customer: customers.Customer{ID: 4, Name: "Jan Dvořák"}, source: customers.SourceCreated}
	svc := newTestService(newMemoryRepo(), resolver)

	out, err := svc.CreateFromDraft(context.Background(), 1, "5", Draft{
		CustomerName: "Jan Dvořák",
		Amount:       decimal.NewNullDecimal(d("15000")),
		Description:  "Grafické práce",
		DueDays:      30,
		Currency:     "eur",
	})
	require.NoError(t, err)
	inv := out.Invoice
	require.Len(t, inv.Items, 1)
	assert.Equal(t, "Grafické práce", inv.Items[0].Description)
	assert.True(t, inv.VATAmount.Equal(d("3150")))
	assert.True(t, inv.Total.Equal(d("18150")))
	assert.Equal(t, "EUR", inv.Currency)
	assert.Equal(t, time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), inv.DueDate)
	assert.Contains(t, out.Message, "nově založen")
}

func TestCreateFromDraftReverseCharge(t *testing.T) {
	resolver := &stubResolver{customer: customers.Customer{ID: 4, Name: "Stavby SK"}}
	svc := newTestService(newMemoryRepo(), resolver)
	out, err := svc.CreateFromDraft(context.Background(), 1, "5", Draft{
		CustomerName:  "Stavby SK",
		Items:         []DraftItem{{Description: "Montáž", Quantity: d("1"), UnitPrice: d("10000")}},
		ReverseCharge: true,
	})
	require.NoError(t, err)
	assert.True(t, out.Invoice.VATAmount.IsZero())
	assert.True(t, out.Invoice.Total.Equal(d("10000")))
}

func TestCreateFromDraftErrors(t *testing.T) {
	ctx := context.Background()
	resolver := &stubResolver{customer: customers.Customer{ID: 1, Name: "A"}}
	svc := newTestService(newMemoryRepo(), resolver)

	_, err := svc.CreateFromDraft(ctx, 1, "5", Draft{CustomerName: "A"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, resolver.calls, "no customer is resolved for an invalid draft")

	resolver.err = customers.ErrCustomerRequired
	_, err = svc.CreateFromDraft(ctx, 1, "5", Draft{Amount: decimal.NewNullDecimal(d("100"))})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateFromDraftRetriesNumberCollision(t *testing.T) {
	repo := newMemoryRepo()
	repo.failInsert = ErrDuplicateNumber
	resolver := &stubResolver{customer: customers.Customer{ID: 1, Name: "A"}}
	svc := newTestService(repo, resolver)

	out, err := svc.CreateFromDraft(context.Background(), 1, "5", Draft{CustomerName: "A", Amount: decimal.NewNullDecimal(d("100"))})
	require.NoError(t, err)
	assert.Equal(t, "20250001", out.Invoice.Number, "state of the failed attempt is rolled back")
}

func TestMarkOverdue(t *testing.T) {
	due := invoiceWithItem()
	notDue := invoiceWithItem()
	notDue.ID = 8
	notDue.DueDate = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	draft := invoiceWithItem()
	draft.ID = 9
	draft.Status = StatusDraft
	repo := newMemoryRepo(due, notDue, draft)
	svc := newTestService(repo, nil)

	n, err := svc.MarkOverdue(context.Background(), time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := repo.Get(context.Background(), 1, 7)
	assert.Equal(t, StatusOverdue, stored.Status)
	history, _ := repo.History(context.Background(), 1, 7)
	require.Len(t, history, 1)
	assert.Equal(t, HistoryOverdue, history[0].Action)
	assert.Equal(t, shared.SystemActor, history[0].Actor)

	other, _ := repo.Get(context.Background(), 1, 9)
	assert.Equal(t, StatusDraft, other.Status)
}

func TestMarkOverdueDoesNotCountRolledBackInvoices(t *testing.T) {
	repo := newMemoryRepo(invoiceWithItem())
	repo.failHistory = true
	svc := newTestService(repo, nil)

	n, err := svc.MarkOverdue(context.Background(), time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Zero(t, n)

	stored, _ := repo.Get(context.Background(), 1, 7)
	assert.Equal(t, StatusSent, stored.Status)
}

func TestParseStatusAndTransitions(t *testing.T) {
	for raw, want := range map[string]Status{
		"Zaplaceno":     StatusPaid,
		"ODESLANÁ":      StatusSent,
		"po splatnosti": StatusOverdue,
		"koncept":       StatusDraft,
	} {
		got, err := ParseStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseStatus("zrušená")
	require.ErrorIs(t, err, ErrInvalidStatus)

	assert.True(t, CanTransition(StatusSent, StatusPaid))
	assert.True(t, CanTransition(StatusPaid, StatusPaid))
	assert.True(t, CanTransition(StatusPaid, StatusSent))
	assert.False(t, CanTransition(StatusPaid, StatusOverdue))
	assert.False(t, CanTransition(StatusDraft, StatusOverdue))
	assert.False(t, CanTransition("void", StatusPaid))
}

func TestComputeTotalsRoundsVATPerLine(t *testing.T) {
	items := []Item{
		{Quantity: d("1"), UnitPrice: d("0.05"), VATRate: d("21")},
		{Quantity: d("1"), UnitPrice: d("0.05"), VATRate: d("21")},
	}
	totals := ComputeTotals(items, false)
	assert.True(t, totals.Subtotal.Equal(d("0.10")))
	assert.True(t, totals.VATAmount.Equal(d("0.02")), totals.VATAmount.String())
	assert.True(t, totals.Total.Equal(d("0.12")))
}

func TestInvoiceIDFromPath(t *testing.T) {
	for path, want := range map[string]int64{
		"/invoices/12":        12,
		"/faktury/5?tab=info": 5,
		"/invoices/12/edit":   12,
	} {
		got, ok := InvoiceIDFromPath(path)
		require.True(t, ok, path)
		assert.Equal(t, want, got)
	}
	for _, path := range []string{"", "/invoices", "/invoices/new", "/expenses/3", "/invoices/0"} {
		_, ok := InvoiceIDFromPath(path)
		assert.False(t, ok, path)
	}
}
