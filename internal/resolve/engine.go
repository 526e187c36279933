package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/nwshop/internal/history"
	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/retrieval"
	"github.com/spherical-ai/nwshop/internal/storage"
	"github.com/spherical-ai/nwshop/internal/textmatch"
)

// PreferenceSource looks up preferences and evaluates dynamic strategies.
type PreferenceSource interface {
	Get(ctx context.Context, genericName, context string) (*storage.Preference, error)
	ResolveDynamic(ctx context.Context, pref *storage.Preference) (*storage.Product, bool, error)
}

// PurchaseHistory finds previously bought products by name.
type PurchaseHistory interface {
	FindBestPurchasedMatch(ctx context.Context, term string) (*storage.PurchasedProduct, error)
}

// LexicalSearcher is the full-text side of search.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]retrieval.LexicalHit, error)
}

// SemanticSearcher is the embedding side of search.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]retrieval.SemanticHit, error)
}

// Recorder receives resolution metrics.
type Recorder interface {
	ObserveResolution(source string, resolved bool, elapsed time.Duration)
	SemanticFailure()
}

// Deps are the engine collaborators. Semantic and Recorder may be nil.
type Deps struct {
	Preferences PreferenceSource
	History     PurchaseHistory
	Purchases   history.PurchaseStore
	Lexical     LexicalSearcher
	Semantic    SemanticSearcher
	Recorder    Recorder
	Logger      *observability.Logger
}

// Engine runs the resolution pipeline: preference, purchase history, then
// scored search.
type Engine struct {
	deps   Deps
	opts   Options
	logger *observability.Logger
}

// NewEngine creates an engine.
func NewEngine(deps Deps, opts Options) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Engine{deps: deps, opts: opts, logger: logger}
}

// Options returns the engine settings.
func (e *Engine) Options() Options {
	return e.opts
}

// Batch is a group of resolutions sharing one purchase-count snapshot.
type Batch struct {
	engine *Engine
	counts *history.CountCache
}

// NewBatch starts a batch with a fresh purchase-count cache.
func (e *Engine) NewBatch() *Batch {
	return &Batch{engine: e, counts: history.NewCountCache(e.deps.Purchases)}
}

// Resolve resolves one term in its own batch.
func (e *Engine) Resolve(ctx context.Context, req Request) (*Result, error) {
	return e.NewBatch().Resolve(ctx, req)
}

// ResolveAll resolves terms in one batch.
func (e *Engine) ResolveAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	return e.NewBatch().ResolveAll(ctx, reqs)
}

// ResolveAll resolves every request in parallel with the configured worker
// limit. Results keep the input order.
func (b *Batch) ResolveAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	results := make([]*Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.engine.opts.BatchWorkers)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := b.Resolve(gctx, req)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", req.GenericName, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Resolve runs the pipeline for one request.
func (b *Batch) Resolve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := b.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	res.GenericName = req.GenericName
	if rec := b.engine.deps.Recorder; rec != nil {
		rec.ObserveResolution(string(res.Source), res.Resolved, time.Since(start))
	}
	b.engine.logger.Debug().
		Str("generic_name", req.GenericName).
		Str("source", string(res.Source)).
		Bool("resolved", res.Resolved).
		Float64("confidence", res.Confidence).
		Dur("elapsed", time.Since(start)).
		Msg("term resolved")
	return res, nil
}

func (b *Batch) resolve(ctx context.Context, req Request) (*Result, error) {
	e := b.engine
	term := strings.TrimSpace(req.GenericName)
	if term == "" {
		return unresolved(SourceNone, []ScoredCandidate{}), nil
	}
	prefContext := req.Context
	if prefContext == "" {
		prefContext = storage.DefaultContext
	}

	if res, err := e.fromPreference(ctx, term, prefContext); err != nil || res != nil {
		return res, err
	}

	purchased, err := e.deps.History.FindBestPurchasedMatch(ctx, term)
	if err != nil {
		return nil, err
	}
	if purchased != nil {
		res := productResult(purchased.Product, e.opts.Scoring.HistoryConfidence(purchased.BuyCount), SourcePurchaseHistory)
		return res, nil
	}

	merged, err := e.search(ctx, term, req.RecipeContext)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return unresolved(SourceNone, []ScoredCandidate{}), nil
	}

	counts, err := b.counts.Counts(ctx)
	if err != nil {
		return nil, err
	}
	scored := e.opts.Scoring.Rank(merged, term, counts)
	top := scored
	if len(top) > e.opts.CandidateLimit {
		top = top[:e.opts.CandidateLimit]
	}

	best := scored[0]
	if best.Score < e.opts.AutoResolveThreshold {
		return unresolved(SourceSearch, top), nil
	}
	res := productResult(best.Product, best.Score, SourceSearch)
	res.Candidates = top
	return res, nil
}

// fromPreference returns nil when no usable preference exists.
func (e *Engine) fromPreference(ctx context.Context, term, prefContext string) (*Result, error) {
	pref, err := e.deps.Preferences.Get(ctx, term, prefContext)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preference: %w", err)
	}
	if pref.Confidence < e.opts.AutoResolveThreshold {
		return nil, nil
	}
	if !textmatch.IsRelevant(pref.ProductName, term) {
		e.logger.Debug().
			Str("generic_name", term).
			Str("product_name", pref.ProductName).
			Msg("preference vetoed by relevance gate")
		return nil, nil
	}

	res := &Result{
		Resolved:    true,
		ProductID:   pref.ProductID,
		ProductName: pref.ProductName,
		Brand:       pref.Brand,
		Price:       priceOf(pref.Price),
		Confidence:  pref.Confidence,
		Source:      SourcePreference,
		Strategy:    pref.Strategy,
	}
	if !pref.Strategy.Dynamic() {
		return res, nil
	}

	picked, ok, err := e.deps.Preferences.ResolveDynamic(ctx, pref)
	if err != nil {
		return nil, err
	}
	if ok {
		res.ProductID = picked.ID
		res.ProductName = picked.Name
		res.Brand = picked.Brand
		res.Price = priceOf(picked.Price)
	}
	return res, nil
}

// search runs lexical and semantic lookups concurrently and merges them.
// Semantic failures and timeouts count as no semantic results.
func (e *Engine) search(ctx context.Context, term, recipeContext string) ([]retrieval.Candidate, error) {
	var (
		lexical  []retrieval.LexicalHit
		semantic []retrieval.SemanticHit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.deps.Lexical.Search(gctx, term, e.opts.LexicalLimit)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexical = hits
		return nil
	})

	if e.deps.Semantic != nil {
		query := term
		if rc := strings.TrimSpace(recipeContext); rc != "" {
			query = term + " for " + rc
		}
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, e.opts.SemanticTimeout)
			defer cancel()

			hits, err := e.deps.Semantic.Search(sctx, query, e.opts.SemanticLimit)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn().Str("query", query).Err(err).Msg("semantic search unavailable, using lexical only")
				if rec := e.deps.Recorder; rec != nil {
					rec.SemanticFailure()
				}
				return nil
			}
			semantic = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return retrieval.Merge(lexical, semantic), nil
}

func productResult(p storage.Product, confidence float64, source Source) *Result {
	return &Result{
		Resolved:    true,
		ProductID:   p.ID,
		ProductName: p.Name,
		Brand:       p.Brand,
		Price:       priceOf(p.Price),
		Confidence:  confidence,
		Source:      source,
	}
}

func unresolved(source Source, candidates []ScoredCandidate) *Result {
	return &Result{Source: source, Candidates: candidates}
}
