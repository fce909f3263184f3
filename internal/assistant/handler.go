package assistant

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fakturace/fakturace/internal/platform/httpx"
)

// maxChatBytes leaves room for base64 encoded receipt photos.
const maxChatBytes = 12 << 20

// Handler exposes the chat endpoint.
type Handler struct {
	logger     *slog.Logger
	dispatcher *Dispatcher
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, dispatcher *Dispatcher) *Handler {
	return &Handler{logger: logger, dispatcher: dispatcher}
}

// MountRoutes registers assistant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/assistant/chat", h.chat)
}

type chatRequest struct {
	Message     string       `json:"message" validate:"required_without=Attachments,max=4000"`
	PagePath    string       `json:"pagePath" validate:"max=500"`
	History     []Turn       `json:"history" validate:"max=200,dive"`
	Attachments []Attachment `json:"attachments" validate:"max=5"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpx.RequireIdentity(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := httpx.DecodeJSONLimit(w, r, &req, maxChatBytes); err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := h.dispatcher.Dispatch(r.Context(), Request{
		CompanyID:   ident.CompanyID,
		UserID:      ident.UserID,
		Message:     req.Message,
		PagePath:    req.PagePath,
		History:     req.History,
		Attachments: req.Attachments,
	})
	httpx.JSON(w, http.StatusOK, resp)
}
