package handlers

import (
	"context"
	"net/http"

	"github.com/spherical-ai/nwshop/internal/lists"
	"github.com/spherical-ai/nwshop/internal/observability"
)

// ListBuilder builds shopping lists.
type ListBuilder interface {
	Build(ctx context.Context, req lists.BuildRequest) (*lists.List, error)
}

// ListHandler handles shopping list requests.
type ListHandler struct {
	logger  *observability.Logger
	builder ListBuilder
}

// NewListHandler creates a new list handler.
func NewListHandler(logger *observability.Logger, builder ListBuilder) *ListHandler {
	return &ListHandler{logger: logger, builder: builder}
}

// Build handles POST /lists.
func (h *ListHandler) Build(w http.ResponseWriter, r *http.Request) {
	var req lists.BuildRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.RecipeIDs)+len(req.RecipeNames)+len(req.ManualItems) == 0 {
		writeError(w, http.StatusBadRequest, "recipeIds, recipeNames or manualItems is required", "")
		return
	}

	list, err := h.builder.Build(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "build list failed", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, list)
}
