// Package reconcile runs the inbound bank email flow: extract payments,
// record them, match each against unpaid invoices and commit the matches.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fakturace/fakturace/internal/banking"
	"github.com/fakturace/fakturace/internal/invoicing"
	"github.com/fakturace/fakturace/internal/matching"
)

// ErrInvalidInput indicates a request missing a required field.
var ErrInvalidInput = errors.New("reconcile: invalid input")

// PaymentExtractor reads payments out of a bank email.
type PaymentExtractor interface {
	ExtractPayments(ctx context.Context, raw string) []banking.Payment
}

// Matcher picks the invoice a payment settles.
type Matcher interface {
	Match(ctx context.Context, p banking.Payment, pool []invoicing.Invoice) *matching.MatchResult
}

// Invoices is the invoice read side the flow needs.
type Invoices interface {
	Get(ctx context.Context, companyID, id int64) (*invoicing.Invoice, error)
	ListUnpaid(ctx context.Context, companyID int64) ([]invoicing.Invoice, error)
}

// Ledger stores bank transactions and commits matches.
type Ledger interface {
	RecordTransaction(ctx context.Context, t banking.BankTransaction) (*banking.BankTransaction, error)
	GetTransaction(ctx context.Context, companyID, id int64) (*banking.BankTransaction, error)
	ListUnmatched(ctx context.Context, companyID int64, limit int) ([]banking.BankTransaction, error)
	CommitMatch(ctx context.Context, req banking.CommitRequest) (*banking.PaymentMatch, error)
	ReviewMatch(ctx context.Context, companyID, matchID int64, to banking.MatchStatus, reviewer int64) (*banking.PaymentMatch, error)
}

// EmailInput is one bank notification received for a bank account.
type EmailInput struct {
	CompanyID     int64
	BankAccountID int64
	Body          string
}

// ProcessResult summarises one ProcessEmail run. Processed counts payments
// recorded as new bank transactions.
type ProcessResult struct {
	RunID      uuid.UUID `json:"runId"`
	Processed  int       `json:"processed"`
	Matched    int       `json:"matched"`
	Duplicates int       `json:"duplicates"`
	Unmatched  int       `json:"unmatched"`
	Errors     []string  `json:"errors"`
}

// Service orchestrates extraction, matching and match commits.
type Service struct {
	extractor PaymentExtractor
	matcher   Matcher
	invoices  Invoices
	ledger    Ledger
	logger    *slog.Logger
	newRunID  func() uuid.UUID
}

// NewService constructs Service.
func NewService(extractor PaymentExtractor, matcher Matcher, invoices Invoices, ledger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor: extractor,
		matcher:   matcher,
		invoices:  invoices,
		ledger:    ledger,
		logger:    logger.With(slog.String("component", "reconcile")),
		newRunID:  uuid.New,
	}
}

// ProcessEmail extracts every payment in the email and handles each one on
// its own: a failure on one payment is recorded in Errors and the rest are
// still processed. The returned error is reserved for failures that stop
// the whole run, such as an unreadable invoice pool.
func (s *Service) ProcessEmail(ctx context.Context, in EmailInput) (ProcessResult, error) {
	result := ProcessResult{RunID: s.newRunID(), Errors: []string{}}
	if in.CompanyID <= 0 || in.BankAccountID <= 0 {
		return result, fmt.Errorf("%w: company and bank account required", ErrInvalidInput)
	}
	logger := s.logger.With(
		slog.Int64("company_id", in.CompanyID),
		slog.Int64("bank_account_id", in.BankAccountID),
		slog.String("run_id", result.RunID.String()))

	payments := s.extractor.ExtractPayments(ctx, in.Body)
	if len(payments) == 0 {
		logger.Info("bank email holds no payments")
		return result, nil
	}

	pool, err := s.invoices.ListUnpaid(ctx, in.CompanyID)
	if err != nil {
		return result, fmt.Errorf("list unpaid invoices: %w", err)
	}

	for i, p := range payments {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("payment %d: %v", i+1, err))
			break
		}
		bt, err := s.ledger.RecordTransaction(ctx, banking.BankTransaction{
			CompanyID:     in.CompanyID,
			BankAccountID: in.BankAccountID,
			Payment:       p,
			ImportBatch:   result.RunID,
		})
		if errors.Is(err, banking.ErrDuplicateTransaction) {
			result.Duplicates++
			continue
		}
		if err != nil {
			logger.Error("record bank transaction", slog.Int("payment", i+1), slog.Any("error", err))
			result.Errors = append(result.Errors, fmt.Sprintf("payment %d: record transaction: %v", i+1, err))
			continue
		}
		result.Processed++

		m := s.matcher.Match(ctx, p, pool)
		if m == nil {
			result.Unmatched++
			continue
		}
		_, err = s.ledger.CommitMatch(ctx, banking.CommitRequest{
			CompanyID:     in.CompanyID,
			TransactionID: bt.ID,
			InvoiceID:     m.InvoiceID,
			MatchType:     m.MatchType,
			Confidence:    m.Confidence,
			MatchedAmount: m.MatchedAmount,
			Notes:         m.Notes,
		})
		if err != nil {
			logger.Error("commit payment match",
				slog.Int64("transaction_id", bt.ID),
				slog.Int64("invoice_id", m.InvoiceID),
				slog.Any("error", err))
			result.Unmatched++
			result.Errors = append(result.Errors, fmt.Sprintf("payment %d: commit match to invoice %d: %v", i+1, m.InvoiceID, err))
			continue
		}
		result.Matched++
		pool = without(pool, m.InvoiceID)
	}

	logger.Info("bank email processed",
		slog.Int("payments", len(payments)),
		slog.Int("processed", result.Processed),
		slog.Int("matched", result.Matched),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("errors", len(result.Errors)))
	return result, nil
}

func without(pool []invoicing.Invoice, id int64) []invoicing.Invoice {
	out := pool[:0:0]
	for _, inv := range pool {
		if inv.ID != id {
			out = append(out, inv)
		}
	}
	return out
}

// RecordMatch lets a user match a transaction to an invoice by hand. The
// matched amount is the transaction amount.
func (s *Service) RecordMatch(ctx context.Context, companyID, userID, transactionID, invoiceID int64, notes string) (*banking.PaymentMatch, error) {
	bt, err := s.ledger.GetTransaction(ctx, companyID, transactionID)
	if err != nil {
		return nil, err
	}
	if bt.IsMatched {
		return nil, banking.ErrAlreadyMatched
	}
	inv, err := s.invoices.Get(ctx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	if bt.Currency != "" && inv.Currency != "" && bt.Currency != inv.Currency {
		return nil, fmt.Errorf("%w: payment in %s, invoice in %s", banking.ErrInvalidMatch, bt.Currency, inv.Currency)
	}
	if notes == "" {
		notes = "Manually matched"
	}
	var by *int64
	if userID > 0 {
		by = &userID
	}
	return s.ledger.CommitMatch(ctx, banking.CommitRequest{
		CompanyID:     companyID,
		TransactionID: bt.ID,
		InvoiceID:     inv.ID,
		MatchType:     banking.MatchManual,
		Confidence:    100,
		MatchedAmount: bt.Amount,
		Notes:         notes,
		MatchedBy:     by,
	})
}

// ReviewMatch moves a match between matched, disputed and cancelled.
func (s *Service) ReviewMatch(ctx context.Context, companyID, matchID int64, status string, reviewer int64) (*banking.PaymentMatch, error) {
	to := banking.MatchStatus(status)
	switch to {
	case banking.MatchStatusMatched, banking.MatchStatusDisputed, banking.MatchStatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown match status %q", banking.ErrInvalidReview, status)
	}
	return s.ledger.ReviewMatch(ctx, companyID, matchID, to, reviewer)
}

// ListUnmatched returns bank transactions still waiting for a match.
func (s *Service) ListUnmatched(ctx context.Context, companyID int64, limit int) ([]banking.BankTransaction, error) {
	return s.ledger.ListUnmatched(ctx, companyID, limit)
}
