package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/preferences"
	"github.com/spherical-ai/nwshop/internal/storage"
)

// PreferenceService reads and writes preferences.
type PreferenceService interface {
	Get(ctx context.Context, genericName, context string) (*storage.Preference, error)
	List(ctx context.Context) ([]storage.Preference, error)
	ListByName(ctx context.Context, genericName string) ([]storage.Preference, error)
	Set(ctx context.Context, params preferences.SetParams) (*storage.Preference, error)
}

// SuggestionSource derives preferences from purchase history.
type SuggestionSource interface {
	Suggest(ctx context.Context) ([]preferences.Suggestion, error)
}

// PreferenceHandler handles preference requests.
type PreferenceHandler struct {
	logger    *observability.Logger
	prefs     PreferenceService
	suggester SuggestionSource
}

// NewPreferenceHandler creates a new preference handler.
func NewPreferenceHandler(logger *observability.Logger, prefs PreferenceService, suggester SuggestionSource) *PreferenceHandler {
	return &PreferenceHandler{logger: logger, prefs: prefs, suggester: suggester}
}

// PreferenceDTO is a stored preference.
type PreferenceDTO struct {
	GenericName string           `json:"genericName"`
	Context     string           `json:"context"`
	ProductID   int64            `json:"productId"`
	ProductName string           `json:"productName"`
	Brand       string           `json:"brand,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Confidence  float64          `json:"confidence"`
	Source      string           `json:"source"`
	Strategy    string           `json:"strategy"`
	Candidates  []int64          `json:"candidates,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func toPreferenceDTO(p storage.Preference) PreferenceDTO {
	dto := PreferenceDTO{
		GenericName: p.GenericName,
		Context:     p.Context,
		ProductID:   p.ProductID,
		ProductName: p.ProductName,
		Brand:       p.Brand,
		Confidence:  p.Confidence,
		Source:      string(p.Source),
		Strategy:    string(p.Strategy),
		Candidates:  p.CandidateIDs,
		Notes:       p.Notes,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Price.Valid {
		dto.Price = &p.Price.Decimal
	}
	return dto
}

func toPreferenceDTOs(prefs []storage.Preference) []PreferenceDTO {
	out := make([]PreferenceDTO, len(prefs))
	for i, p := range prefs {
		out[i] = toPreferenceDTO(p)
	}
	return out
}

// List handles GET /preferences.
func (h *PreferenceHandler) List(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.prefs.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list preferences failed", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"preferences": toPreferenceDTOs(prefs)})
}

// Get handles GET /preferences/{genericName}. With ?context= it returns the
// single preference for that context (falling back to default); without it
// every context for the name.
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "genericName")

	if ctxName := r.URL.Query().Get("context"); ctxName != "" {
		pref, err := h.prefs.Get(r.Context(), name, ctxName)
		if err != nil {
			writeServiceError(w, r, h.logger, "preference not found", err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, toPreferenceDTO(*pref))
		return
	}

	prefs, err := h.prefs.ListByName(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, h.logger, "get preferences failed", err)
		return
	}
	if len(prefs) == 0 {
		writeError(w, http.StatusNotFound, "preference not found", name)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"preferences": toPreferenceDTOs(prefs)})
}

// Put handles PUT /preferences.
func (h *PreferenceHandler) Put(w http.ResponseWriter, r *http.Request) {
	var params preferences.SetParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	pref, err := h.prefs.Set(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, h.logger, "invalid preference", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toPreferenceDTO(*pref))
}

// Suggestions handles GET /preferences/suggestions.
func (h *PreferenceHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.suggester.Suggest(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "suggest preferences failed", err)
		return
	}
	if suggestions == nil {
		suggestions = []preferences.Suggestion{}
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}
