package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/nwshop/internal/cache"
	"github.com/spherical-ai/nwshop/internal/config"
	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/resolve"
	"github.com/spherical-ai/nwshop/internal/retrieval"
	"github.com/spherical-ai/nwshop/internal/storage"
)

var (
	// ErrSessionNotFound is returned for unknown or expired sessions.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrInvalidSelection is returned when a selection does not name one of
	// the item's candidates.
	ErrInvalidSelection = errors.New("invalid selection")
)

// Resolver resolves a group of terms as one batch.
type Resolver interface {
	ResolveAll(ctx context.Context, reqs []resolve.Request) ([]*resolve.Result, error)
}

// LexicalSearcher finds alternatives when the resolution has none.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]retrieval.LexicalHit, error)
}

// PurchaseMatcher finds previously bought products for a term.
type PurchaseMatcher interface {
	PurchasedMatches(ctx context.Context, term string, limit int) ([]storage.PurchasedProduct, error)
}

// CountSource reports buy counts per product.
type CountSource interface {
	CountsByProduct(ctx context.Context) (map[int64]int, error)
}

// ProductLoader loads full product rows.
type ProductLoader interface {
	GetByIDs(ctx context.Context, ids []int64) ([]storage.Product, error)
}

// EventLog persists session lifecycle events.
type EventLog interface {
	Record(ctx context.Context, sessionID, source string, itemCount int, status string) error
}

// Recorder counts created sessions.
type Recorder interface {
	CheckoutSessionCreated(source string)
}

// Deps are the service collaborators. Log and Recorder may be nil.
type Deps struct {
	Resolver Resolver
	Lexical  LexicalSearcher
	History  PurchaseMatcher
	Counts   CountSource
	Products ProductLoader
	Store    cache.Client
	Log      EventLog
	Recorder Recorder
	Logger   *observability.Logger
}

// Service manages checkout sessions.
type Service struct {
	deps   Deps
	cfg    config.CheckoutConfig
	logger *observability.Logger
	now    func() time.Time
}

// NewService creates a checkout service.
func NewService(deps Deps, cfg config.CheckoutConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.AutoConfirmConfidence <= 0 {
		cfg.AutoConfirmConfidence = 0.7
	}
	if cfg.AlternativeLimit <= 0 {
		cfg.AlternativeLimit = 10
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// Create resolves every item in one batch and stores a pending session.
func (s *Service) Create(ctx context.Context, items []Item, source string) (*Session, error) {
	reqs := make([]resolve.Request, len(items))
	for i, it := range items {
		reqs[i] = resolve.Request{GenericName: it.Name}
	}
	results, err := s.deps.Resolver.ResolveAll(ctx, reqs)
	if err != nil {
		return nil, err
	}

	counts, err := s.deps.Counts.CountsByProduct(ctx)
	if err != nil {
		return nil, fmt.Errorf("load purchase counts: %w", err)
	}

	session := &Session{
		ID:        uuid.NewString(),
		Items:     make([]SessionItem, len(items)),
		Status:    StatusPending,
		Source:    source,
		CreatedAt: s.now().UTC(),
	}
	for i, it := range items {
		item, err := s.buildItem(ctx, it, results[i], counts)
		if err != nil {
			return nil, err
		}
		session.Items[i] = *item
	}
	session.recalculate()

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	if s.deps.Log != nil {
		if err := s.deps.Log.Record(ctx, session.ID, source, len(items), "created"); err != nil {
			s.logger.Warn().Str("session_id", session.ID).Err(err).Msg("checkout log write failed")
		}
	}
	if s.deps.Recorder != nil {
		s.deps.Recorder.CheckoutSessionCreated(source)
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("source", source).
		Int("items", len(items)).
		Str("estimated_total", session.EstimatedTotal.StringFixed(2)).
		Msg("checkout session created")

	return session, nil
}

func (s *Service) buildItem(ctx context.Context, it Item, res *resolve.Result, counts map[int64]int) (*SessionItem, error) {
	qty := it.Qty
	if qty <= 0 {
		qty = 1
	}
	item := &SessionItem{
		Name:       it.Name,
		Qty:        qty,
		Confidence: res.Confidence,
		Source:     res.Source,
	}
	item.StrategyLabel, item.AutoConfirmed = label(res, s.cfg.AutoConfirmConfidence)

	var selected int64
	if res.Resolved {
		selected = res.ProductID
		item.SelectedProductID = &selected
	}

	var ids []int64
	if len(res.Candidates) > 0 {
		for _, c := range res.Candidates {
			ids = append(ids, c.ID)
		}
	} else {
		hits, err := s.deps.Lexical.Search(ctx, it.Name, s.cfg.AlternativeLimit)
		if err != nil {
			return nil, fmt.Errorf("search alternatives: %w", err)
		}
		for _, h := range hits {
			ids = append(ids, h.ID)
		}
	}

	purchased, err := s.deps.History.PurchasedMatches(ctx, it.Name, s.cfg.AlternativeLimit)
	if err != nil {
		return nil, err
	}
	for _, p := range purchased {
		ids = append(ids, p.ID)
	}
	if selected != 0 {
		ids = append(ids, selected)
	}

	products, err := s.deps.Products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	byID := make(map[int64]storage.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	item.Candidates = orderCandidates(ids, selected, byID, counts)
	return item, nil
}

// orderCandidates puts previously bought products first, then the
// selected product, then the rest in search order.
func orderCandidates(ids []int64, selected int64, byID map[int64]storage.Product, counts map[int64]int) []CandidateProduct {
	out := make([]CandidateProduct, 0, len(byID))
	seen := make(map[int64]bool, len(byID))
	add := func(id int64) {
		p, ok := byID[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, CandidateProduct{Product: p, PreviouslyBought: counts[id] > 0})
	}

	for _, id := range ids {
		if counts[id] > 0 {
			add(id)
		}
	}
	if selected != 0 {
		add(selected)
	}
	for _, id := range ids {
		add(id)
	}
	return out
}

// Get returns a live session.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.deps.Store.Get(ctx, cache.SessionKey(id))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.remainingTTL(&session) <= 0 {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// Select sets the product of one item. The product must be one of the
// item's candidates.
func (s *Service) Select(ctx context.Context, id string, itemIndex int, productID int64) (*Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if itemIndex < 0 || itemIndex >= len(session.Items) {
		return nil, fmt.Errorf("%w: item %d out of range", ErrInvalidSelection, itemIndex)
	}

	item := &session.Items[itemIndex]
	if _, ok := item.candidate(productID); !ok {
		return nil, fmt.Errorf("%w: product %d is not a candidate for %q", ErrInvalidSelection, productID, item.Name)
	}
	item.SelectedProductID = &productID
	item.AutoConfirmed = true
	session.recalculate()

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) remainingTTL(session *Session) time.Duration {
	return s.cfg.SessionTTL - s.now().Sub(session.CreatedAt)
}

// save keeps the original expiry.
func (s *Service) save(ctx context.Context, session *Session) error {
	ttl := s.remainingTTL(session)
	if ttl <= 0 {
		return ErrSessionNotFound
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.deps.Store.Set(ctx, cache.SessionKey(session.ID), raw, ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}
