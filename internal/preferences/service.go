// Package preferences manages brand preferences: validated writes, dynamic
// strategy resolution and suggestions learned from purchase history.
package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/storage"
)

// ErrInvalidPreference is wrapped by every validation failure of Set.
var ErrInvalidPreference = errors.New("invalid preference")

// DefaultConfidence is used when SetParams.Confidence is nil.
const DefaultConfidence = 0.9

// Repository is the preference storage.
type Repository interface {
	Get(ctx context.Context, genericName, context string) (*storage.Preference, error)
	Upsert(ctx context.Context, pref *storage.Preference) error
	List(ctx context.Context) ([]storage.Preference, error)
	ListByName(ctx context.Context, genericName string) ([]storage.Preference, error)
}

// ProductStore loads catalog products.
type ProductStore interface {
	GetByID(ctx context.Context, id int64) (*storage.Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]storage.Product, error)
}

// SetParams describes a preference write. Zero values take the defaults:
// context "default", confidence 0.9, source explicit, strategy fixed.
type SetParams struct {
	GenericName  string                   `json:"genericName"`
	ProductID    int64                    `json:"productId"`
	Context      string                   `json:"context,omitempty"`
	Confidence   *float64                 `json:"confidence,omitempty"`
	Source       storage.PreferenceSource `json:"source,omitempty"`
	Strategy     storage.Strategy         `json:"strategy,omitempty"`
	CandidateIDs []int64                  `json:"candidates,omitempty"`
	Notes        string                   `json:"notes,omitempty"`
}

type candidateNotes struct {
	Candidates []int64 `json:"candidates"`
}

// Service reads and writes preferences.
type Service struct {
	repo     Repository
	products ProductStore
	logger   *observability.Logger
}

// NewService creates a preference service.
func NewService(repo Repository, products ProductStore, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{repo: repo, products: products, logger: logger}
}

// Get returns the preference for genericName in context, falling back to
// the default context. Missing preferences return storage.ErrNotFound.
func (s *Service) Get(ctx context.Context, genericName, context string) (*storage.Preference, error) {
	return s.repo.Get(ctx, genericName, context)
}

// List returns every preference.
func (s *Service) List(ctx context.Context) ([]storage.Preference, error) {
	return s.repo.List(ctx)
}

// ListByName returns the preferences of one generic name across contexts.
func (s *Service) ListByName(ctx context.Context, genericName string) ([]storage.Preference, error) {
	return s.repo.ListByName(ctx, genericName)
}

// Set validates params and upserts the preference. Nothing is written when
// validation fails.
func (s *Service) Set(ctx context.Context, params SetParams) (*storage.Preference, error) {
	pref, err := s.build(params)
	if err != nil {
		return nil, err
	}

	if _, err := s.products.GetByID(ctx, pref.ProductID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: product %d does not exist: %w", ErrInvalidPreference, pref.ProductID, storage.ErrNotFound)
		}
		return nil, err
	}

	if err := s.repo.Upsert(ctx, pref); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("generic_name", pref.GenericName).
		Str("context", pref.Context).
		Int64("product_id", pref.ProductID).
		Str("strategy", string(pref.Strategy)).
		Str("source", string(pref.Source)).
		Msg("preference saved")

	return pref, nil
}

func (s *Service) build(params SetParams) (*storage.Preference, error) {
	name := storage.NormalizeName(params.GenericName)
	if name == "" {
		return nil, fmt.Errorf("%w: generic name is required", ErrInvalidPreference)
	}
	if params.ProductID <= 0 {
		return nil, fmt.Errorf("%w: product id must be positive, got %d", ErrInvalidPreference, params.ProductID)
	}

	pref := &storage.Preference{
		GenericName:  name,
		Context:      strings.TrimSpace(params.Context),
		ProductID:    params.ProductID,
		Confidence:   DefaultConfidence,
		Source:       params.Source,
		Strategy:     params.Strategy,
		Notes:        params.Notes,
		CandidateIDs: params.CandidateIDs,
	}
	if pref.Context == "" {
		pref.Context = storage.DefaultContext
	}
	if params.Confidence != nil {
		pref.Confidence = *params.Confidence
	}
	if pref.Confidence < 0 || pref.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %.2f outside [0,1]", ErrInvalidPreference, pref.Confidence)
	}
	if pref.Source == "" {
		pref.Source = storage.SourceExplicit
	}
	if !pref.Source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidPreference, pref.Source)
	}
	if pref.Strategy == "" {
		pref.Strategy = storage.StrategyFixed
	}
	if !pref.Strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidPreference, pref.Strategy)
	}

	if len(pref.CandidateIDs) == 0 && pref.Notes != "" {
		pref.CandidateIDs, _ = decodeCandidates(pref.Notes)
	}
	if len(pref.CandidateIDs) > 0 {
		raw, err := json.Marshal(candidateNotes{Candidates: pref.CandidateIDs})
		if err != nil {
			return nil, fmt.Errorf("encode candidates: %w", err)
		}
		pref.Notes = string(raw)
	}
	return pref, nil
}

func decodeCandidates(notes string) ([]int64, error) {
	var parsed candidateNotes
	if err := json.Unmarshal([]byte(notes), &parsed); err != nil {
		return nil, err
	}
	return parsed.Candidates, nil
}

// ResolveDynamic picks the product a lowest_price or on_special preference
// currently points at. ok is false when the candidate list cannot be read
// or none of its products exist; the caller then uses the anchor product.
func (s *Service) ResolveDynamic(ctx context.Context, pref *storage.Preference) (product *storage.Product, ok bool, err error) {
	ids := pref.CandidateIDs
	if len(ids) == 0 {
		if pref.Notes == "" {
			return nil, false, nil
		}
		ids, err = decodeCandidates(pref.Notes)
		if err != nil {
			s.logger.Warn().Str("generic_name", pref.GenericName).Err(err).Msg("undecodable preference notes")
			return nil, false, nil
		}
		if len(ids) == 0 {
			return nil, false, nil
		}
	}

	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, false, fmt.Errorf("load preference candidates: %w", err)
	}
	if len(products) == 0 {
		return nil, false, nil
	}

	pool := make([]storage.Product, 0, len(products))
	for _, p := range products {
		if p.InStock {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		pool = products
	}

	switch pref.Strategy {
	case storage.StrategyOnSpecial:
		sort.SliceStable(pool, func(i, j int) bool {
			if pool[i].OnSpecial != pool[j].OnSpecial {
				return pool[i].OnSpecial
			}
			return priceLess(pool[i], pool[j])
		})
	default:
		sort.SliceStable(pool, func(i, j int) bool {
			return priceLess(pool[i], pool[j])
		})
	}

	picked := pool[0]
	return &picked, true, nil
}

// priceLess orders by ascending price with unknown prices last.
func priceLess(a, b storage.Product) bool {
	if a.Price.Valid != b.Price.Valid {
		return a.Price.Valid
	}
	if !a.Price.Valid {
		return false
	}
	return a.Price.Decimal.LessThan(b.Price.Decimal)
}
