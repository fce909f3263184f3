package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakturace/fakturace/internal/banking"
	"github.com/fakturace/fakturace/internal/invoicing"
)

type stubMatcher struct {
	suggestion *Suggestion
	err        error
	calls      int
	seen       []Candidate
}

func (s *stubMatcher) Suggest(ctx context.Context, p banking.Payment, candidates []Candidate) (*Suggestion, error) {
	s.calls++
	s.seen = candidates
	return s.suggestion, s.err
}

type countingObserver map[string]int

func (c countingObserver) ObserveMatch(tier string) { c[tier]++ }

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func invoice(id int64, vs, total string, due time.Time) invoicing.Invoice {
	return invoicing.Invoice{
		ID: id, CompanyID: 1, Number: "2025" + vs, VariableSymbol: vs, Currency: "CZK",
		Total: amt(total), Status: invoicing.StatusSent, DueDate: due,
	}
}

var (
	may  = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	june = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

func assertConsistent(t *testing.T, r *MatchResult) {
	t.Helper()
	switch r.MatchType {
	case banking.MatchAutomatic:
		assert.Equal(t, 100, r.Confidence)
	case banking.MatchPartial:
		assert.Less(t, r.Confidence, 100)
	}
}

func TestExactSymbolAndAmount(t *testing.T) {
	semantic := &stubMatcher{}
	e := NewEngine(Config{Semantic: semantic})
	pool := []invoicing.Invoice{invoice(3, "2025003", "5000", june), invoice(7, "2025001", "5000", may)}

	r := e.Match(context.Background(), banking.Payment{Amount: amt("5000"), Currency: "CZK", VariableSymbol: "2025001"}, pool)
	require.NotNil(t, r)
	assert.Equal(t, int64(7), r.InvoiceID)
	assert.Equal(t, banking.MatchAutomatic, r.MatchType)
	assert.Equal(t, 100, r.Confidence)
	assert.Equal(t, TierExact, r.Tier)
	assert.True(t, r.MatchedAmount.Equal(amt("5000")))
	assert.Zero(t, semantic.calls)
}

func TestExactIgnoresLeadingZeros(t *testing.T) {
	e := NewEngine(Config{})
	r := e.Match(context.Background(), banking.Payment{Amount: amt("120"), VariableSymbol: "000123"}, []invoicing.Invoice{invoice(1, "123", "120", may)})
	require.NotNil(t, r)
	assert.Equal(t, TierExact, r.Tier)
}

func TestToleranceBoundary(t *testing.T) {
	e := NewEngine(Config{})
	pool := []invoicing.Invoice{invoice(7, "2025001", "5000.00", may)}

	r := e.Match(context.Background(), banking.Payment{Amount: amt("5000.01"), VariableSymbol: "2025001"}, pool)
	require.NotNil(t, r)
	assert.Equal(t, TierExact, r.Tier)

	r = e.Match(context.Background(), banking.Payment{Amount: amt("5000.02"), VariableSymbol: "2025001"}, pool)
	assert.Nil(t, r)
}

func TestLowConfidenceSuggestionIsRejected(t *testing.T) {
	semantic := &stubMatcher{suggestion: &Suggestion{InvoiceID: 7, MatchType: banking.MatchPartial, Confidence: 60}}
	e := NewEngine(Config{Semantic: semantic})
	pool := []invoicing.Invoice{invoice(7, "2025001", "5000", may)}

	r := e.Match(context.Background(), banking.Payment{Amount: amt("4800"), VariableSymbol: "9999999"}, pool)
	assert.Nil(t, r)
	assert.Equal(t, 1, semantic.calls)
}

func TestLowConfidenceSuggestionByNameIsRejected(t *testing.T) {
	semantic := &stubMatcher{suggestion: &Suggestion{InvoiceID: 9, MatchType: banking.MatchPartial, Confidence: 60}}
	e := NewEngine(Config{Semantic: semantic})
	pool := []invoicing.Invoice{invoice(9, "2025009", "3200", may)}

	r := e.Match(context.Background(), banking.Payment{Amount: amt("3000"), Currency: "CZK", CounterpartyName: "ACME"}, pool)
	assert.Nil(t, r)
	assert.Equal(t, 1, semantic.calls)
}

func TestMatchIsRepeatablePerTier(t *testing.T) {
	pool := []invoicing.Invoice{
		invoice(7, "2025001", "5000", may),
		invoice(8, "2025002", "1200", june),
		invoice(9, "2025003", "1200", may),
	}
	cases := []struct {
		name     string
		payment  banking.Payment
		semantic *Suggestion
		tier     Tier
	}{
		{"exact", banking.Payment{Amount: amt("5000"), VariableSymbol: "2025001"}, nil, TierExact},
		{"semantic", banking.Payment{Amount: amt("4990"), CounterpartyName: "ACME"},
			&Suggestion{InvoiceID: 7, MatchType: banking.MatchPartial, Confidence: 80, Reason: "same customer"}, TierSemantic},
		{"amount", banking.Payment{Amount: amt("1200")}, nil, TierAmount},
		{"none", banking.Payment{Amount: amt("77"), VariableSymbol: "1"}, nil, TierNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEngine(Config{Semantic: &stubMatcher{suggestion: tc.semantic}})
			before := append([]invoicing.Invoice(nil), pool...)

			first := e.Match(context.Background(), tc.payment, pool)
			second := e.Match(context.Background(), tc.payment, pool)

			assert.Equal(t, first, second)
			assert.Equal(t, before, pool)
			if tc.tier == TierNone {
				assert.Nil(t, first)
				return
			}
			require.NotNil(t, first)
			assert.Equal(t, tc.tier, first.Tier)
			assertConsistent(t, first)
		})
	}
}

func TestSemanticSuggestionAccepted(t *testing.T) {
	semantic := &stubMatcher{suggestion: &Suggestion{InvoiceID: 7, MatchType: banking.MatchAutomatic, Confidence: 85, Reason: "typo in VS"}}
	e := NewEngine(Config{Semantic: semantic})
	pool := []invoicing.Invoice{invoice(7, "2025001", "5000", may)}

	r := e.Match(context.Background(), banking.Payment{Amount: amt("5000"), VariableSymbol: "2025010"}, pool)
	require.NotNil(t, r)
	assert.Equal(t, TierSemantic, r.Tier)
	assert.Equal(t, banking.MatchPartial, r.MatchType, "automatic below 100 is downgraded")
	assert.Equal(t, 85, r.Confidence)
	assert.Contains(t, r.Notes, "typo in VS")
	assertConsistent(t, r)
	require.Len(t, semantic.seen, 1)
	assert.Equal(t, int64(7), semantic.seen[0].InvoiceID)
}

func TestSemanticSuggestionOutsidePoolIsIgnored(t *testing.T) {
	semantic := &stubMatcher{suggestion: &Suggestion{InvoiceID: 99, MatchType: banking.MatchAutomatic, Confidence: 100}}
	e := NewEngine(Config{Semantic: semantic})
	r := e.Match(context.Background(), banking.Payment{Amount: amt("1"), CounterpartyName: "Novák"}, []invoicing.Invoice{invoice(7, "1", "5000", may)})
	assert.Nil(t, r)
}

func TestSemanticErrorFallsThroughToAmount(t *testing.T) {
	semantic := &stubMatcher{err: errors.New("timeout")}
	e := NewEngine(Config{Semantic: semantic})
	pool := []invoicing.Invoice{invoice(7, "2025001", "5000", may)}

	r := e.Match(context.Background(), banking.Payment{Amount: amt("5000"), CounterpartyName: "Novák"}, pool)
	require.NotNil(t, r)
	assert.Equal(t, TierAmount, r.Tier)
	assert.Equal(t, banking.MatchPartial, r.MatchType)
	assert.Equal(t, AmountOnlyConfidence, r.Confidence)
	assert.Equal(t, "Matched by amount only", r.Notes)
}

func TestSemanticSkippedWithoutSymbolOrName(t *testing.T) {
	semantic := &stubMatcher{suggestion: &Suggestion{InvoiceID: 7, Confidence: 90}}
	e := NewEngine(Config{Semantic: semantic})
	r := e.Match(context.Background(), banking.Payment{Amount: amt("5000")}, []invoicing.Invoice{invoice(7, "2025001", "5000", may)})
	require.NotNil(t, r)
	assert.Equal(t, TierAmount, r.Tier)
	assert.Zero(t, semantic.calls)
}

func TestExactBeatsSemantic(t *testing.T) {
	semantic := &stubMatcher{suggestion: &Suggestion{InvoiceID: 3, MatchType: banking.MatchAutomatic, Confidence: 100}}
	e := NewEngine(Config{Semantic: semantic})
	pool := []invoicing.Invoice{invoice(3, "2025003", "5000", june), invoice(7, "2025001", "5000", may)}
	r := e.Match(context.Background(), banking.Payment{Amount: amt("5000"), VariableSymbol: "2025001"}, pool)
	require.NotNil(t, r)
	assert.Equal(t, int64(7), r.InvoiceID)
}

func TestAmountOnlyPrefersNewestDueDate(t *testing.T) {
	e := NewEngine(Config{})
	pool := []invoicing.Invoice{invoice(2, "A", "5000", may), invoice(5, "B", "5000", june), invoice(4, "C", "5000", june)}
	for i := 0; i < 5; i++ {
		r := e.Match(context.Background(), banking.Payment{Amount: amt("5000")}, pool)
		require.NotNil(t, r)
		assert.Equal(t, int64(4), r.InvoiceID, "same due date resolves to the lower id")
	}
}

func TestPaidAndForeignCurrencyInvoicesAreSkipped(t *testing.T) {
	e := NewEngine(Config{})
	paid := invoice(1, "1", "5000", june)
	paid.Status = invoicing.StatusPaid
	eur := invoice(2, "2", "5000", june)
	eur.Currency = "EUR"
	r := e.Match(context.Background(), banking.Payment{Amount: amt("5000"), Currency: "CZK"}, []invoicing.Invoice{paid, eur})
	assert.Nil(t, r)
	assert.Nil(t, e.Match(context.Background(), banking.Payment{Amount: amt("5000")}, nil))
}

func TestObserverSeesTiers(t *testing.T) {
	obs := countingObserver{}
	e := NewEngine(Config{Observer: obs})
	pool := []invoicing.Invoice{invoice(7, "2025001", "5000", may)}
	e.Match(context.Background(), banking.Payment{Amount: amt("5000"), VariableSymbol: "2025001"}, pool)
	e.Match(context.Background(), banking.Payment{Amount: amt("5000")}, pool)
	e.Match(context.Background(), banking.Payment{Amount: amt("1")}, pool)
	assert.Equal(t, countingObserver{"exact": 1, "amount": 1, "none": 1}, obs)
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		in         banking.MatchType
		confidence int
		want       banking.MatchType
		wantConf   int
	}{
		{banking.MatchAutomatic, 100, banking.MatchAutomatic, 100},
		{banking.MatchAutomatic, 95, banking.MatchPartial, 95},
		{banking.MatchPartial, 100, banking.MatchPartial, 99},
		{"likely", 80, banking.MatchPartial, 80},
		{banking.MatchManual, 150, banking.MatchPartial, 99},
		{banking.MatchPartial, -5, banking.MatchPartial, 0},
	}
	for _, tc := range cases {
		got, conf := coerce(tc.in, tc.confidence)
		assert.Equal(t, tc.want, got, "%s/%d", tc.in, tc.confidence)
		assert.Equal(t, tc.wantConf, conf, "%s/%d", tc.in, tc.confidence)
	}
}

func TestSemanticTimeoutIsApplied(t *testing.T) {
	var deadline time.Time
	semantic := suggestFunc(func(ctx context.Context) (*Suggestion, error) {
		deadline, _ = ctx.Deadline()
		return nil, nil
	})
	e := NewEngine(Config{Semantic: semantic, Timeout: 2 * time.Second})
	e.Match(context.Background(), banking.Payment{Amount: amt("1"), VariableSymbol: "1"}, []invoicing.Invoice{invoice(7, "2", "5", may)})
	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
}

type suggestFunc func(ctx context.Context) (*Suggestion, error)

func (f suggestFunc) Suggest(ctx context.Context, p banking.Payment, candidates []Candidate) (*Suggestion, error) {
	return f(ctx)
}
