package invoicing

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/platform/httpx"
	"github.com/fakturace/fakturace/internal/shared"
)

// Handler exposes invoice mutations over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices/{id}", h.getInvoice)
	r.Get("/invoices/{id}/history", h.getHistory)
	r.Patch("/invoices/{id}", h.updateInvoice)
	r.Post("/invoices/{id}/items", h.addItem)
}

var errorMapping = map[error]error{
	ErrNotFound:        httpx.ErrNotFound,
	ErrItemNotFound:    httpx.ErrNotFound,
	ErrInvalidInput:    httpx.ErrValidation,
	ErrInvalidStatus:   httpx.ErrValidation,
	ErrDuplicateNumber: httpx.ErrConflict,
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	err = httpx.Classify(err, errorMapping)
	h.logger.Warn("invoice request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}

type itemView struct {
	ID          int64           `json:"id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	VATRate     decimal.Decimal `json:"vatRate"`
	Total       decimal.Decimal `json:"total"`
}

type invoiceView struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	VariableSymbol string          `json:"variableSymbol"`
	CustomerID     int64           `json:"customerId"`
	CustomerName   string          `json:"customerName"`
	IssueDate      string          `json:"issueDate"`
	DueDate        string          `json:"dueDate"`
	Currency       string          `json:"currency"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	VATAmount      decimal.Decimal `json:"vatAmount"`
	Total          decimal.Decimal `json:"total"`
	Status         Status          `json:"status"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	ReverseCharge  bool            `json:"reverseCharge"`
	Items          []itemView      `json:"items"`
}

func toView(inv *Invoice) invoiceView {
	v := invoiceView{
		ID:             inv.ID,
		Number:         inv.Number,
		VariableSymbol: inv.VariableSymbol,
		CustomerID:     inv.CustomerID,
		CustomerName:   inv.CustomerName,
		IssueDate:      inv.IssueDate.Format(time.DateOnly),
		DueDate:        inv.DueDate.Format(time.DateOnly),
		Currency:       inv.Currency,
		Subtotal:       inv.Subtotal,
		VATAmount:      inv.VATAmount,
		Total:          inv.Total,
		Status:         inv.Status,
		PaidAt:         inv.PaidAt,
		Notes:          inv.Notes,
		ReverseCharge:  inv.ReverseCharge,
		Items:          make([]itemView, 0, len(inv.Items)),
	}
	for _, it := range inv.Items {
		v.Items = append(v.Items, itemView{
			ID:          it.ID,
			Description: it.Description,
			Quantity:    it.Quantity,
			Unit:        it.Unit,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
			Total:       it.Total,
		})
	}
	return v
}

type outcomeView struct {
	Message string         `json:"message"`
	Action  *shared.Action `json:"action,omitempty"`
	Invoice *invoiceView   `json:"invoice,omitempty"`
}

func toOutcomeView(o Outcome) outcomeView {
	v := outcomeView{Message: o.Message, Action: o.Action}
	if o.Invoice != nil {
		iv := toView(o.Invoice)
		v.Invoice = &iv
	}
	return v
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpx.RequireIdentity(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Get(r.Context(), ident.CompanyID, id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(inv))
}

type historyView struct {
	Action      HistoryAction `json:"action"`
	Description string        `json:"description"`
	Actor       string        `json:"actor"`
	CreatedAt   time.Time     `json:"createdAt"`
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpx.RequireIdentity(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.History(r.Context(), ident.CompanyID, id)
	if err != nil {
		h.fail(w, "history", err)
		return
	}
	out := make([]historyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyView{Action: e.Action, Description: e.Description, Actor: e.Actor, CreatedAt: e.CreatedAt})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type addItemRequest struct {
	Description string           `json:"description" validate:"required"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Unit        string           `json:"unit"`
	UnitPrice   decimal.Decimal  `json:"unitPrice"`
	VATRate     *decimal.Decimal `json:"vatRate"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpx.RequireIdentity(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req addItemRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.AddItem(r.Context(), ident.CompanyID, ident.Actor(), Target{InvoiceID: id}, ItemInput{
		Description: req.Description,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		UnitPrice:   req.UnitPrice,
		VATRate:     req.VATRate,
	})
	if err != nil {
		h.fail(w, "add_item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOutcomeView(out))
}

type updateRequest struct {
	Type          UpdateType       `json:"type" validate:"required"`
	DueDate       string           `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	Notes         string           `json:"notes"`
	Email         string           `json:"email" validate:"omitempty,email"`
	Phone         string           `json:"phone"`
	ContactPerson string           `json:"contactPerson"`
	Address       string           `json:"address"`
	BankAccount   string           `json:"bankAccount"`
	IBAN          string           `json:"iban"`
	Status        string           `json:"status"`
	ItemID        int64            `json:"itemId"`
	ItemName      string           `json:"itemDescription"`
	Quantity      *decimal.Decimal `json:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unitPrice"`
}

func (req updateRequest) toDomain() UpdateRequest {
	out := UpdateRequest{
		Type:    req.Type,
		Notes:   req.Notes,
		Contact: CustomerContact{Email: req.Email, Phone: req.Phone, ContactPerson: req.ContactPerson, Address: req.Address},
		Payment: PaymentDetails{BankAccount: req.BankAccount, IBAN: req.IBAN},
		Status:  req.Status,
		Item:    ItemChange{ItemID: req.ItemID, Description: req.ItemName, Quantity: req.Quantity, UnitPrice: req.UnitPrice},
	}
	if req.DueDate != "" {
		out.DueDate, _ = time.Parse(time.DateOnly, req.DueDate)
	}
	return out
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpx.RequireIdentity(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Update(r.Context(), ident.CompanyID, ident.Actor(), Target{InvoiceID: id}, req.toDomain())
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOutcomeView(out))
}
