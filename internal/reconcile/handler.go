package reconcile

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/banking"
	"github.com/fakturace/fakturace/internal/invoicing"
	"github.com/fakturace/fakturace/internal/platform/httpx"
	"github.com/fakturace/fakturace/internal/shared"
)

const idempotencyScope = "bank_email"

// Enqueuer hands an email to the background worker.
type Enqueuer interface {
	EnqueueProcessEmail(ctx context.Context, in EmailInput) error
}

// KeyStore records processed Idempotency-Key values.
type KeyStore interface {
	Claim(ctx context.Context, companyID int64, scope, key string) error
	Release(ctx context.Context, companyID int64, scope, key string) error
}

// Handler exposes the reconciliation flow over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer Enqueuer
	keys     KeyStore
}

// NewHandler builds Handler instance. enqueuer and keys may be nil.
func NewHandler(logger *slog.Logger, service *Service, enqueuer Enqueuer, keys KeyStore) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer, keys: keys}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/bank-accounts/{accountID}/emails", h.processEmail)
	r.Get("/bank-transactions", h.listTransactions)
	r.Post("/bank-transactions/{id}/match", h.recordMatch)
	r.Patch("/payment-matches/{id}", h.reviewMatch)
}

var errorMapping = map[error]error{
	ErrInvalidInput:               httpx.ErrValidation,
	banking.ErrNotFound:           httpx.ErrNotFound,
	invoicing.ErrNotFound:         httpx.ErrNotFound,
	banking.ErrAlreadyMatched:     httpx.ErrConflict,
	banking.ErrInvoiceNotPayable:  httpx.ErrConflict,
	banking.ErrInvalidMatch:       httpx.ErrValidation,
	banking.ErrInvalidReview:      httpx.ErrValidation,
	shared.ErrIdempotencyConflict: httpx.ErrConflict,
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	err = httpx.Classify(err, errorMapping)
	h.logger.Warn("reconcile request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}

type emailRequest struct {
	Body string `json:"body" validate:"required"`
}

func (h *Handler) processEmail(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpx.RequireIdentity(w, r)
	if !ok {
		return
	}
	accountID, err := httpx.IDParam(r, "accountID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req emailRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.keys != nil {
		if err := h.keys.Claim(r.Context(), ident.CompanyID, idempotencyScope, key); err != nil {
			h.fail(w, "process_email", err)
			return
		}
	}
	release := func() {
		if key == "" || h.keys == nil {
			return
		}
		if err := h.keys.Release(context.WithoutCancel(r.Context()), ident.CompanyID, idempotencyScope, key); err != nil {
			h.logger.Error("release idempotency key", slog.Any("error", err))
		}
	}

	in := EmailInput{CompanyID: ident.CompanyID, BankAccountID: accountID, Body: req.Body}
	if r.URL.Query().Get("async") == "1" && h.enqueuer != nil {
		if err := h.enqueuer.EnqueueProcessEmail(r.Context(), in); err != nil {
			release()
			h.fail(w, "enqueue_email", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	result, err := h.service.ProcessEmail(r.Context(), in)
	if err != nil {
		release()
		h.fail(w, "process_email", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type transactionView struct {
	ID                  int64           `json:"id"`
	BankAccountID       int64           `json:"bankAccountId"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	VariableSymbol      string          `json:"variableSymbol,omitempty"`
	CounterpartyAccount string          `json:"counterpartyAccount,omitempty"`
	CounterpartyName    string          `json:"counterpartyName,omitempty"`
	Description         string          `json:"description,omitempty"`
	TransactionAt       *time.Time      `json:"transactionAt,omitempty"`
	IsMatched           bool            `json:"isMatched"`
	MatchedInvoiceID    *int64          `json:"matchedInvoiceId,omitempty"`
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpx.RequireIdentity(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("unmatched") != "1" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "only unmatched=1 listing is supported")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.service.ListUnmatched(r.Context(), ident.CompanyID, limit)
	if err != nil {
		h.fail(w, "list_unmatched", err)
		return
	}
	out := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		v := transactionView{
			ID:                  t.ID,
			BankAccountID:       t.BankAccountID,
			Amount:              t.Amount,
			Currency:            t.Currency,
			VariableSymbol:      t.VariableSymbol,
			CounterpartyAccount: t.CounterpartyAccount,
			CounterpartyName:    t.CounterpartyName,
			Description:         t.Description,
			IsMatched:           t.IsMatched,
			MatchedInvoiceID:    t.MatchedInvoiceID,
		}
		if !t.TransactionAt.IsZero() {
			at := t.TransactionAt
			v.TransactionAt = &at
		}
		out = append(out, v)
	}
	httpx.JSON(w, http.StatusOK, out)
}

type matchView struct {
	ID                int64               `json:"id"`
	BankTransactionID int64               `json:"bankTransactionId"`
	InvoiceID         int64               `json:"invoiceId"`
	MatchType         banking.MatchType   `json:"matchType"`
	Confidence        int                 `json:"confidence"`
	MatchedAmount     decimal.Decimal     `json:"matchedAmount"`
	Status            banking.MatchStatus `json:"status"`
	Notes             string              `json:"notes,omitempty"`
}

func toMatchView(m *banking.PaymentMatch) matchView {
	return matchView{
		ID:                m.ID,
		BankTransactionID: m.BankTransactionID,
		InvoiceID:         m.InvoiceID,
		MatchType:         m.MatchType,
		Confidence:        m.Confidence,
		MatchedAmount:     m.MatchedAmount,
		Status:            m.Status,
		Notes:             m.Notes,
	}
}

type matchRequest struct {
	InvoiceID int64  `json:"invoiceId" validate:"required,gt=0"`
	Notes     string `json:"notes" validate:"max=500"`
}

func (h *Handler) recordMatch(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpx.RequireIdentity(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req matchRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.RecordMatch(r.Context(), ident.CompanyID, ident.UserID, id, req.InvoiceID, req.Notes)
	if err != nil {
		h.fail(w, "record_match", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMatchView(m))
}

type reviewRequest struct {
	Status string `json:"status" validate:"required,oneof=matched disputed cancelled"`
}

func (h *Handler) reviewMatch(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpx.RequireIdentity(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reviewRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.ReviewMatch(r.Context(), ident.CompanyID, id, req.Status, ident.UserID)
	if err != nil {
		h.fail(w, "review_match", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMatchView(m))
}
