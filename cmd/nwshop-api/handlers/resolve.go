package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/resolve"
)

const maxBatchItems = 200

// Resolver resolves grocery items.
type Resolver interface {
	Resolve(ctx context.Context, req resolve.Request) (*resolve.Result, error)
	ResolveAll(ctx context.Context, reqs []resolve.Request) ([]*resolve.Result, error)
}

// ResolveHandler handles item resolution requests.
type ResolveHandler struct {
	logger   *observability.Logger
	resolver Resolver
}

// NewResolveHandler creates a new resolve handler.
func NewResolveHandler(logger *observability.Logger, resolver Resolver) *ResolveHandler {
	return &ResolveHandler{logger: logger, resolver: resolver}
}

// ResolveRequestDTO is one item to resolve.
type ResolveRequestDTO struct {
	GenericName   string `json:"genericName"`
	Context       string `json:"context,omitempty"`
	RecipeContext string `json:"recipeContext,omitempty"`
}

// BatchRequestDTO is a group of items resolved together.
type BatchRequestDTO struct {
	Items         []ResolveRequestDTO `json:"items"`
	RecipeContext string              `json:"recipeContext,omitempty"`
}

// BatchResponseDTO holds results in request order.
type BatchResponseDTO struct {
	Results         []*resolve.Result `json:"results"`
	ResolvedCount   int               `json:"resolvedCount"`
	UnresolvedCount int               `json:"unresolvedCount"`
}

// Resolve handles POST /resolve.
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.GenericName) == "" {
		writeError(w, http.StatusBadRequest, "genericName is required", "")
		return
	}

	res, err := h.resolver.Resolve(r.Context(), resolve.Request{
		GenericName:   req.GenericName,
		Context:       req.Context,
		RecipeContext: req.RecipeContext,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "resolution failed", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// ResolveBatch handles POST /resolve/batch.
func (h *ResolveHandler) ResolveBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items is required", "")
		return
	}
	if len(req.Items) > maxBatchItems {
		writeError(w, http.StatusBadRequest, "too many items", "")
		return
	}

	reqs := make([]resolve.Request, len(req.Items))
	for i, it := range req.Items {
		reqs[i] = resolve.Request{GenericName: it.GenericName, Context: it.Context, RecipeContext: it.RecipeContext}
		if reqs[i].RecipeContext == "" {
			reqs[i].RecipeContext = req.RecipeContext
		}
	}

	results, err := h.resolver.ResolveAll(r.Context(), reqs)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolution failed", err)
		return
	}

	resp := BatchResponseDTO{Results: results}
	for _, res := range results {
		if res.Resolved {
			resp.ResolvedCount++
		} else {
			resp.UnresolvedCount++
		}
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}
