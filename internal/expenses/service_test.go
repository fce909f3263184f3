package expenses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakturace/fakturace/internal/shared"
)

type mockRepository struct {
	expenses map[int64]Expense
	err      error
}

func newMockRepository() *mockRepository {
	return &mockRepository{expenses: make(map[int64]Expense)}
}

func (m *mockRepository) Create(ctx context.Context, e Expense) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	e.ID = int64(len(m.expenses) + 1)
	m.expenses[e.ID] = e
	return e.ID, nil
}

func (m *mockRepository) Get(ctx context.Context, companyID, id int64) (*Expense, error) {
	e, ok := m.expenses[id]
	if !ok || e.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return &e, nil
}

func null(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func newTestService(repo Repository) *Service {
	svc := NewService(repo, nil)
	svc.now = func() time.Time { return time.Date(2025, 5, 10, 9, 30, 0, 0, time.UTC) }
	return svc
}

func TestCreateFromDraftFillsFromTotal(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	out, err := svc.CreateFromDraft(context.Background(), 1, Draft{SupplierName: "Alza.cz a.s.", Total: null("1210")})
	require.NoError(t, err)
	e := out.Expense
	assert.True(t, e.Amount.Equal(decimal.NewFromInt(1000)), e.Amount.String())
	assert.True(t, e.VATAmount.Equal(decimal.NewFromInt(210)), e.VATAmount.String())
	assert.Equal(t, StatusUnpaid, e.Status)
	assert.Equal(t, DefaultCategory, e.Category)
	assert.Equal(t, "CZK", e.Currency)
	assert.Equal(t, time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), e.IssuedAt)
	assert.Equal(t, shared.Navigate("/expenses/1"), out.Action)
	assert.Contains(t, out.Message, "1 210,00 Kč")
	assert.Len(t, repo.expenses, 1)
}

func TestCreateFromDraftAmountCombinations(t *testing.T) {
	cases := []struct {
		name               string
		draft              Draft
		amount, vat, total string
	}{
		{"net only", Draft{Amount: null("1000")}, "1000", "210", "1210"},
		{"net and vat", Draft{Amount: null("100"), VATAmount: null("12")}, "100", "12", "112"},
		{"total and vat", Draft{Total: null("112"), VATAmount: null("12")}, "100", "12", "112"},
		{"net and total", Draft{Amount: null("100"), Total: null("115")}, "100", "15", "115"},
		{"total with rounding", Draft{Total: null("100")}, "82.64", "17.36", "100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := newTestService(newMockRepository()).CreateFromDraft(context.Background(), 1, tc.draft)
			require.NoError(t, err)
			e := out.Expense
			assert.True(t, e.Amount.Equal(decimal.RequireFromString(tc.amount)), e.Amount.String())
			assert.True(t, e.VATAmount.Equal(decimal.RequireFromString(tc.vat)), e.VATAmount.String())
			assert.True(t, e.Total.Equal(decimal.RequireFromString(tc.total)), e.Total.String())
		})
	}
}

func TestCreateFromDraftKeepsExplicitFields(t *testing.T) {
	reduced := decimal.NewFromInt(12)
	issued := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	out, err := newTestService(newMockRepository()).CreateFromDraft(context.Background(), 1, Draft{
		SupplierName: "Knihkupectví",
		Category:     "kancelář",
		Amount:       null("100"),
		VATRate:      &reduced,
		Currency:     "EUR",
		IssuedAt:     issued,
	})
	require.NoError(t, err)
	assert.Equal(t, "kancelář", out.Expense.Category)
	assert.Equal(t, "EUR", out.Expense.Currency)
	assert.Equal(t, issued, out.Expense.IssuedAt)
	assert.True(t, out.Expense.Total.Equal(decimal.NewFromInt(112)))
}

func TestCreateFromDraftRejectsMissingAmount(t *testing.T) {
	svc := newTestService(newMockRepository())
	_, err := svc.CreateFromDraft(context.Background(), 1, Draft{SupplierName: "X"})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.CreateFromDraft(context.Background(), 1, Draft{Total: null("0")})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateFromDraftDefaultsSupplier(t *testing.T) {
	out, err := newTestService(newMockRepository()).CreateFromDraft(context.Background(), 1, Draft{Total: null("50")})
	require.NoError(t, err)
	assert.Equal(t, unknownSupplier, out.Expense.SupplierName)
}

func TestCreateFromDraftRepositoryError(t *testing.T) {
	repo := newMockRepository()
	repo.err = errors.New("db down")
	_, err := newTestService(repo).CreateFromDraft(context.Background(), 1, Draft{Total: null("50")})
	require.Error(t, err)
}

func TestGetExpenseHandler(t *testing.T) {
	repo := newMockRepository()
	repo.expenses[1] = Expense{ID: 1, CompanyID: 3, SupplierName: "Alza", Total: decimal.NewFromInt(121), Status: StatusUnpaid, Category: DefaultCategory}
	h := NewHandler(newTestService(repo).logger, newTestService(repo))
	r := chi.NewRouter()
	h.MountRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/expenses/1", nil)
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{CompanyID: 3, UserID: 1}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Alza", body["supplierName"])
	assert.Equal(t, "121", body["total"])

	req = httptest.NewRequest(http.MethodGet, "/expenses/1", nil)
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{CompanyID: 4}))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/expenses/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
