package expenses

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/platform/httpx"
)

// Handler exposes expenses over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers expense routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/expenses/{id}", h.getExpense)
}

type expenseView struct {
	ID           int64           `json:"id"`
	SupplierName string          `json:"supplierName"`
	SupplierICO  string          `json:"supplierIco,omitempty"`
	Category     string          `json:"category"`
	Amount       decimal.Decimal `json:"amount"`
	VATAmount    decimal.Decimal `json:"vatAmount"`
	Total        decimal.Decimal `json:"total"`
	Currency     string          `json:"currency"`
	Status       Status          `json:"status"`
	IssuedAt     string          `json:"issuedAt"`
	Description  string          `json:"description,omitempty"`
}

func (h *Handler) getExpense(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpx.RequireIdentity(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.Get(r.Context(), ident.CompanyID, id)
	if errors.Is(err, ErrNotFound) {
		httpx.RespondError(w, errors.Join(httpx.ErrNotFound, err))
		return
	}
	if err != nil {
		h.logger.Error("get expense", slog.Int64("expense_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, expenseView{
		ID:           e.ID,
		SupplierName: e.SupplierName,
		SupplierICO:  e.SupplierICO,
		Category:     e.Category,
		Amount:       e.Amount,
		VATAmount:    e.VATAmount,
		Total:        e.Total,
		Currency:     e.Currency,
		Status:       e.Status,
		IssuedAt:     e.IssuedAt.Format(time.DateOnly),
		Description:  e.Description,
	})
}
