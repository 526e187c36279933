package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/nwshop/internal/checkout"
	"github.com/spherical-ai/nwshop/internal/observability"
)

// CheckoutService manages checkout sessions.
type CheckoutService interface {
	Create(ctx context.Context, items []checkout.Item, source string) (*checkout.Session, error)
	Get(ctx context.Context, id string) (*checkout.Session, error)
	Select(ctx context.Context, id string, itemIndex int, productID int64) (*checkout.Session, error)
}

// CheckoutHandler handles checkout session requests.
type CheckoutHandler struct {
	logger  *observability.Logger
	service CheckoutService
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(logger *observability.Logger, service CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{logger: logger, service: service}
}

// CreateSessionDTO starts a checkout session.
type CreateSessionDTO struct {
	Items  []checkout.Item `json:"items"`
	Source string          `json:"source,omitempty"`
}

// SelectDTO picks a candidate for one item.
type SelectDTO struct {
	ProductID int64 `json:"productId"`
}

// Create handles POST /checkout/sessions.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	items := make([]checkout.Item, 0, len(req.Items))
	for _, it := range req.Items {
		if strings.TrimSpace(it.Name) == "" {
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "items is required", "")
		return
	}

	session, err := h.service.Create(r.Context(), items, req.Source)
	if err != nil {
		writeServiceError(w, r, h.logger, "create session failed", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, session)
}

// Get handles GET /checkout/sessions/{id}.
func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "session not found", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, session)
}

// Select handles POST /checkout/sessions/{id}/items/{index}/select.
func (h *CheckoutHandler) Select(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item index", err.Error())
		return
	}
	var req SelectDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.ProductID <= 0 {
		writeError(w, http.StatusBadRequest, "productId is required", "")
		return
	}

	session, err := h.service.Select(r.Context(), chi.URLParam(r, "id"), index, req.ProductID)
	if err != nil {
		writeServiceError(w, r, h.logger, "select product failed", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, session)
}
