package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/fakturace/fakturace/internal/banking"
	"github.com/fakturace/fakturace/internal/llm"
	"github.com/fakturace/fakturace/internal/money"
)

// MaxLLMCandidates bounds the invoices sent in one prompt.
const MaxLLMCandidates = 20

const matchSystemPrompt = `You reconcile incoming Czech bank payments with unpaid invoices.
Compare the variable symbol (even with typos or missing digits), the amount (partial payments
are possible), the payer name against the customer name, and the payment message.
Answer only with JSON:
{"invoiceId": <id from the list or null>, "matchType": "automatic" | "partial",
 "confidence": <integer 0-100>, "matchedAmount": <number>, "reason": "<short explanation>"}
Use "automatic" only when you are certain. Use null when no invoice fits.`

// LLMMatcher is the SemanticMatcher backed by a language model.
type LLMMatcher struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewLLMMatcher constructs LLMMatcher.
func NewLLMMatcher(completer llm.Completer, logger *slog.Logger) *LLMMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMMatcher{completer: completer, logger: logger.With(slog.String("component", "llm_matcher"))}
}

type promptPayment struct {
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	VariableSymbol string `json:"variableSymbol,omitempty"`
	Counterparty   string `json:"counterpartyName,omitempty"`
	Account        string `json:"counterpartyAccount,omitempty"`
	Message        string `json:"message,omitempty"`
	Date           string `json:"date,omitempty"`
}

type promptInvoice struct {
	ID             int64  `json:"id"`
	Number         string `json:"number"`
	Amount         string `json:"amount"`
	VariableSymbol string `json:"variableSymbol"`
	Customer       string `json:"customer"`
	DueDate        string `json:"dueDate"`
}

type suggestionDTO struct {
	InvoiceID     *int64           `json:"invoiceId"`
	MatchType     string           `json:"matchType"`
	Confidence    float64          `json:"confidence"`
	MatchedAmount money.FlexAmount `json:"matchedAmount"`
	Reason        string           `json:"reason"`
}

// Suggest asks the model which candidate, if any, the payment settles.
func (m *LLMMatcher) Suggest(ctx context.Context, p banking.Payment, candidates []Candidate) (*Suggestion, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	candidates = closestByAmount(p, candidates, MaxLLMCandidates)

	pp := promptPayment{
		Amount:         p.Amount.StringFixed(2),
		Currency:       p.Currency,
		VariableSymbol: p.VariableSymbol,
		Counterparty:   p.CounterpartyName,
		Account:        p.CounterpartyAccount,
		Message:        p.Description,
	}
	if !p.TransactionAt.IsZero() {
		pp.Date = p.TransactionAt.Format("2006-01-02")
	}
	invoices := make([]promptInvoice, 0, len(candidates))
	for _, c := range candidates {
		invoices = append(invoices, promptInvoice{
			ID:             c.InvoiceID,
			Number:         c.Number,
			Amount:         c.Amount.StringFixed(2),
			VariableSymbol: c.VariableSymbol,
			Customer:       c.CustomerName,
			DueDate:        c.DueDate.Format("2006-01-02"),
		})
	}
	paymentJSON, err := json.MarshalIndent(pp, "", "  ")
	if err != nil {
		return nil, err
	}
	invoicesJSON, err := json.MarshalIndent(invoices, "", "  ")
	if err != nil {
		return nil, err
	}

	resp, err := m.completer.Complete(ctx, llm.Request{
		System: matchSystemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("PAYMENT:\n%s\n\nUNPAID INVOICES:\n%s", paymentJSON, invoicesJSON),
		}},
		JSON:      true,
		MaxTokens: 300,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic match: %w", err)
	}

	var dto suggestionDTO
	if err := llm.DecodeJSON(resp.Content, &dto); err != nil {
		m.logger.Warn("unparsable match suggestion", slog.String("response", truncate(resp.Content, 200)), slog.Any("error", err))
		return nil, err
	}
	if dto.InvoiceID == nil {
		return nil, nil
	}
	confidence := dto.Confidence
	if confidence > 0 && confidence < 1 {
		confidence *= 100
	}
	return &Suggestion{
		InvoiceID:     *dto.InvoiceID,
		MatchType:     banking.MatchType(strings.ToLower(strings.TrimSpace(dto.MatchType))),
		Confidence:    int(math.Round(confidence)),
		MatchedAmount: dto.MatchedAmount.NullDecimal,
		Reason:        dto.Reason,
	}, nil
}

// closestByAmount keeps the limit candidates whose amounts are nearest to
// the payment. Ties keep their incoming order.
func closestByAmount(p banking.Payment, candidates []Candidate, limit int) []Candidate {
	if len(candidates) <= limit {
		return candidates
	}
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di := sorted[i].Amount.Sub(p.Amount).Abs()
		dj := sorted[j].Amount.Sub(p.Amount).Abs()
		return di.LessThan(dj)
	})
	return sorted[:limit]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
