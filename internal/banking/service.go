package banking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/invoicing"
	"github.com/fakturace/fakturace/internal/money"
	"github.com/fakturace/fakturace/internal/shared"
)

var (
	// ErrAlreadyMatched indicates the bank transaction already has a match.
	ErrAlreadyMatched = errors.New("banking: transaction already matched")
	// ErrInvoiceNotPayable indicates the invoice cannot move to paid.
	ErrInvoiceNotPayable = errors.New("banking: invoice cannot be marked paid")
	// ErrInvalidMatch indicates inconsistent match fields.
	ErrInvalidMatch = errors.New("banking: invalid match")
	// ErrInvalidReview indicates a review transition that is not allowed.
	ErrInvalidReview = errors.New("banking: invalid review transition")
)

// CommitRequest describes a match to persist.
type CommitRequest struct {
	CompanyID     int64
	TransactionID int64
	InvoiceID     int64
	MatchType     MatchType
	Confidence    int
	MatchedAmount decimal.Decimal
	Notes         string
	// MatchedBy is nil for system matches.
	MatchedBy *int64
}

func (r CommitRequest) validate() error {
	switch {
	case !r.MatchType.Valid():
		return fmt.Errorf("%w: unknown match type %q", ErrInvalidMatch, r.MatchType)
	case r.Confidence < 0 || r.Confidence > 100:
		return fmt.Errorf("%w: confidence %d out of range", ErrInvalidMatch, r.Confidence)
	case r.MatchType == MatchAutomatic && r.Confidence != 100:
		return fmt.Errorf("%w: automatic match requires confidence 100", ErrInvalidMatch)
	case r.MatchType == MatchPartial && r.Confidence >= 100:
		return fmt.Errorf("%w: partial match requires confidence below 100", ErrInvalidMatch)
	case !r.MatchedAmount.IsPositive():
		return fmt.Errorf("%w: matched amount must be positive", ErrInvalidMatch)
	}
	return nil
}

// Service commits and reviews payment matches.
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
	return &Service{repo: repo, logger: logger.With(slog.String("component", "banking")), now: time.Now}
}

// RecordTransaction stores a payment observed on a bank account. It returns
// ErrDuplicateTransaction when the same payment was recorded before.
func (s *Service) RecordTransaction(ctx context.Context, t BankTransaction) (*BankTransaction, error) {
	if t.Currency == "" {
		t.Currency = money.DefaultCurrency
	}
	t.DedupKey = DedupKey(t.CompanyID, t.BankAccountID, t.Payment)
	id, err := s.repo.InsertTransaction(ctx, t)
	if err != nil {
		return nil, err
	}
	t.ID = id
	return &t, nil
}

// GetTransaction returns a single bank transaction.
func (s *Service) GetTransaction(ctx context.Context, companyID, id int64) (*BankTransaction, error) {
	return s.repo.GetTransaction(ctx, companyID, id)
}

// ListUnmatched returns transactions still waiting for a match, newest first.
func (s *Service) ListUnmatched(ctx context.Context, companyID int64, limit int) ([]BankTransaction, error) {
	return s.repo.ListUnmatched(ctx, companyID, limit)
}

// CommitMatch records the match, marks the invoice paid and the transaction
// matched, and appends invoice history. All of it commits or none of it.
func (s *Service) CommitMatch(ctx context.Context, req CommitRequest) (*PaymentMatch, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var match *PaymentMatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bt, err := tx.LockTransaction(ctx, req.CompanyID, req.TransactionID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		if bt.IsMatched {
			return ErrAlreadyMatched
		}
		inv, err := tx.LockInvoice(ctx, req.CompanyID, req.InvoiceID)
		if err != nil {
			return fmt.Errorf("lock invoice: %w", err)
		}
		if inv.Status == invoicing.StatusPaid || !invoicing.CanTransition(inv.Status, invoicing.StatusPaid) {
			return fmt.Errorf("%w: invoice %s is %s", ErrInvoiceNotPayable, inv.Number, inv.Status)
		}

		m := PaymentMatch{
			BankTransactionID: bt.ID,
			InvoiceID:         inv.ID,
			MatchType:         req.MatchType,
			Confidence:        req.Confidence,
			MatchedAmount:     req.MatchedAmount,
			Status:            MatchStatusMatched,
			Notes:             req.Notes,
			MatchedBy:         req.MatchedBy,
			CreatedAt:         s.now(),
		}
		if m.ID, err = tx.InsertMatch(ctx, m); err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		if err := tx.SetInvoicePaid(ctx, inv.ID, m.CreatedAt, req.MatchedAmount); err != nil {
			return fmt.Errorf("set invoice paid: %w", err)
		}
		if err := tx.MarkTransactionMatched(ctx, bt.ID, inv.ID); err != nil {
			return fmt.Errorf("mark transaction matched: %w", err)
		}
		desc := fmt.Sprintf("Uhrazeno platbou %s", money.Format(bt.Amount, bt.Currency))
		if bt.VariableSymbol != "" {
			desc += " (VS " + bt.VariableSymbol + ")"
		}
		desc += fmt.Sprintf(", párování %s, jistota %d %%", req.MatchType, req.Confidence)
		if err := tx.AppendInvoiceHistory(ctx, invoicing.HistoryEntry{
			InvoiceID:   inv.ID,
			Action:      invoicing.HistoryPaid,
			Description: desc,
			Actor:       actor(req.MatchedBy),
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		match = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment matched",
		slog.Int64("company_id", req.CompanyID),
		slog.Int64("transaction_id", req.TransactionID),
		slog.Int64("invoice_id", req.InvoiceID),
		slog.String("match_type", string(req.MatchType)),
		slog.Int("confidence", req.Confidence))
	return match, nil
}

// ReviewMatch applies a reviewer's verdict. Cancelling reopens the invoice
// and releases the bank transaction in the same transaction.
func (s *Service) ReviewMatch(ctx context.Context, companyID, matchID int64, to MatchStatus, reviewer int64) (*PaymentMatch, error) {
	var match *PaymentMatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.LockMatch(ctx, companyID, matchID)
		if err != nil {
			return err
		}
		if !CanReview(m.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidReview, m.Status, to)
		}
		if err := tx.UpdateMatchStatus(ctx, m.ID, to); err != nil {
			return err
		}
		by := shared.Identity{UserID: reviewer}.Actor()

		if to == MatchStatusCancelled {
			inv, err := tx.LockInvoice(ctx, companyID, m.InvoiceID)
			if err != nil {
				return fmt.Errorf("lock invoice: %w", err)
			}
			if err := tx.ClearTransactionMatch(ctx, m.BankTransactionID); err != nil {
				return fmt.Errorf("clear transaction: %w", err)
			}
			if inv.Status == invoicing.StatusPaid {
				if err := tx.ReopenInvoice(ctx, inv.ID); err != nil {
					return fmt.Errorf("reopen invoice: %w", err)
				}
			}
			if err := tx.AppendInvoiceHistory(ctx, invoicing.HistoryEntry{
				InvoiceID:   inv.ID,
				Action:      invoicing.HistorySent,
				Description: "Párování platby zrušeno, faktura znovu čeká na úhradu",
				Actor:       by,
			}); err != nil {
				return err
			}
		} else {
			if err := tx.AppendInvoiceHistory(ctx, invoicing.HistoryEntry{
				InvoiceID:   m.InvoiceID,
				Action:      invoicing.HistoryUpdated,
				Description: "Párování platby označeno jako " + reviewLabel(to),
				Actor:       by,
			}); err != nil {
				return err
			}
		}
		m.Status = to
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func reviewLabel(s MatchStatus) string {
	switch s {
	case MatchStatusDisputed:
		return "sporné"
	case MatchStatusMatched:
		return "potvrzené"
	default:
		return "zrušené"
	}
}

func actor(userID *int64) string {
	if userID == nil || *userID <= 0 {
		return shared.SystemActor
	}
	return strconv.FormatInt(*userID, 10)
}
