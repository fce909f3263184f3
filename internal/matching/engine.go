// Package matching pairs incoming payments with unpaid invoices using a
// strict-then-fuzzy cascade.
package matching

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/banking"
	"github.com/fakturace/fakturace/internal/invoicing"
	"github.com/fakturace/fakturace/internal/money"
)

const (
	// MinSemanticConfidence is the lowest suggestion confidence accepted.
	MinSemanticConfidence = 70
	// AmountOnlyConfidence is reported for matches found by amount alone.
	AmountOnlyConfidence = 70

	defaultSemanticTimeout = 15 * time.Second
)

// Tier names the cascade step that produced a result.
type Tier string

const (
	TierExact    Tier = "exact"
	TierSemantic Tier = "semantic"
	TierAmount   Tier = "amount"
	TierNone     Tier = "none"
)

// MatchResult is a proposed pairing of a payment with an invoice. It is not
// persisted by the engine.
type MatchResult struct {
	InvoiceID     int64
	MatchType     banking.MatchType
	Confidence    int
	MatchedAmount decimal.Decimal
	Notes         string
	Tier          Tier
}

// Candidate is the invoice summary offered to a SemanticMatcher.
type Candidate struct {
	InvoiceID      int64
	Number         string
	Amount         decimal.Decimal
	Currency       string
	VariableSymbol string
	CustomerName   string
	DueDate        time.Time
}

// Suggestion is a SemanticMatcher's answer. A nil Suggestion means no match.
type Suggestion struct {
	InvoiceID     int64
	MatchType     banking.MatchType
	Confidence    int
	MatchedAmount decimal.NullDecimal
	Reason        string
}

// SemanticMatcher proposes a match when symbols and amounts disagree.
type SemanticMatcher interface {
	Suggest(ctx context.Context, p banking.Payment, candidates []Candidate) (*Suggestion, error)
}

// Observer receives the tier of every Match call.
type Observer interface {
	ObserveMatch(tier string)
}

// Config configures Engine. Semantic and Observer may be nil.
type Config struct {
	Semantic SemanticMatcher
	Timeout  time.Duration
	Observer Observer
	Logger   *slog.Logger
}

// Engine runs the matching cascade. It is safe for concurrent use.
type Engine struct {
	semantic SemanticMatcher
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger
}

// NewEngine constructs Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSemanticTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		semantic: cfg.Semantic,
		timeout:  cfg.Timeout,
		observer: cfg.Observer,
		logger:   cfg.Logger.With(slog.String("component", "matching")),
	}
}

// Match returns the best match for p among pool, or nil. The cascade is
// exact variable symbol and amount, then the semantic matcher, then amount
// alone. Invoices are considered newest due date first.
func (e *Engine) Match(ctx context.Context, p banking.Payment, pool []invoicing.Invoice) *MatchResult {
	candidates := orderPool(p, pool)
	result := e.match(ctx, p, candidates)
	tier := TierNone
	if result != nil {
		tier = result.Tier
	}
	if e.observer != nil {
		e.observer.ObserveMatch(string(tier))
	}
	return result
}

func (e *Engine) match(ctx context.Context, p banking.Payment, pool []invoicing.Invoice) *MatchResult {
	if len(pool) == 0 {
		return nil
	}

	if vs := normalizeSymbol(p.VariableSymbol); vs != "" {
		for _, inv := range pool {
			if normalizeSymbol(inv.VariableSymbol) == vs && money.WithinTolerance(inv.Total, p.Amount) {
				return &MatchResult{
					InvoiceID:     inv.ID,
					MatchType:     banking.MatchAutomatic,
					Confidence:    100,
					MatchedAmount: p.Amount,
					Notes:         "Matched by variable symbol and amount",
					Tier:          TierExact,
				}
			}
		}
	}

	if r := e.suggest(ctx, p, pool); r != nil {
		return r
	}

	for _, inv := range pool {
		if money.WithinTolerance(inv.Total, p.Amount) {
			return &MatchResult{
				InvoiceID:     inv.ID,
				MatchType:     banking.MatchPartial,
				Confidence:    AmountOnlyConfidence,
				MatchedAmount: p.Amount,
				Notes:         "Matched by amount only",
				Tier:          TierAmount,
			}
		}
	}
	return nil
}

func (e *Engine) suggest(ctx context.Context, p banking.Payment, pool []invoicing.Invoice) *MatchResult {
	if e.semantic == nil {
		return nil
	}
	if strings.TrimSpace(p.VariableSymbol) == "" && strings.TrimSpace(p.CounterpartyName) == "" {
		return nil
	}

	candidates := make([]Candidate, 0, len(pool))
	byID := make(map[int64]bool, len(pool))
	for _, inv := range pool {
		byID[inv.ID] = true
		candidates = append(candidates, Candidate{
			InvoiceID:      inv.ID,
			Number:         inv.Number,
			Amount:         inv.Total,
			Currency:       inv.Currency,
			VariableSymbol: inv.VariableSymbol,
			CustomerName:   inv.CustomerName,
			DueDate:        inv.DueDate,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	s, err := e.semantic.Suggest(ctx, p, candidates)
	if err != nil {
		e.logger.Warn("semantic matcher failed", slog.Any("error", err))
		return nil
	}
	if s == nil || !byID[s.InvoiceID] {
		return nil
	}
	matchType, confidence := coerce(s.MatchType, s.Confidence)
	if confidence < MinSemanticConfidence {
		return nil
	}
	matched := p.Amount
	if s.MatchedAmount.Valid && s.MatchedAmount.Decimal.IsPositive() {
		matched = s.MatchedAmount.Decimal
	}
	notes := "Matched by semantic analysis"
	if reason := strings.TrimSpace(s.Reason); reason != "" {
		notes += ": " + reason
	}
	return &MatchResult{
		InvoiceID:     s.InvoiceID,
		MatchType:     matchType,
		Confidence:    confidence,
		MatchedAmount: matched,
		Notes:         notes,
		Tier:          TierSemantic,
	}
}

// coerce keeps automatic matches at confidence 100 and partial matches
// below it.
func coerce(t banking.MatchType, confidence int) (banking.MatchType, int) {
	if t != banking.MatchAutomatic {
		t = banking.MatchPartial
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	switch {
	case t == banking.MatchAutomatic && confidence < 100:
		t = banking.MatchPartial
	case t == banking.MatchPartial && confidence == 100:
		confidence = 99
	}
	return t, confidence
}

func orderPool(p banking.Payment, pool []invoicing.Invoice) []invoicing.Invoice {
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	out := make([]invoicing.Invoice, 0, len(pool))
	for _, inv := range pool {
		if inv.Status == invoicing.StatusPaid {
			continue
		}
		if currency != "" && inv.Currency != "" && !strings.EqualFold(inv.Currency, currency) {
			continue
		}
		out = append(out, inv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.After(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func normalizeSymbol(s string) string {
	return strings.TrimLeft(strings.TrimSpace(s), "0")
}
