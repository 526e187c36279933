// Package app wires the nwshop services over one database.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/spherical-ai/nwshop/internal/cache"
	"github.com/spherical-ai/nwshop/internal/checkout"
	"github.com/spherical-ai/nwshop/internal/config"
	"github.com/spherical-ai/nwshop/internal/embedding"
	"github.com/spherical-ai/nwshop/internal/history"
	"github.com/spherical-ai/nwshop/internal/lists"
	"github.com/spherical-ai/nwshop/internal/monitoring"
	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/preferences"
	"github.com/spherical-ai/nwshop/internal/resolve"
	"github.com/spherical-ai/nwshop/internal/retrieval"
	"github.com/spherical-ai/nwshop/internal/storage"
)

// ErrNoEmbedder is returned by operations that need an embedding provider
// when none is configured.
var ErrNoEmbedder = errors.New("embedding provider not configured")

// App holds the wired services.
type App struct {
	Config *config.Config
	Logger *observability.Logger

	DB    *sql.DB
	Repos *storage.Repositories
	Cache cache.Client

	Embedder embedding.Embedder
	Vectors  retrieval.VectorAdapter
	Lexical  *retrieval.LexicalIndex
	Semantic *retrieval.SemanticIndex

	Preferences *preferences.Service
	Suggester   *preferences.Suggester
	History     *history.Index
	Matcher     *history.Matcher
	Frequency   *history.FrequencyUpdater
	Engine      *resolve.Engine
	Checkout    *checkout.Service
	Lists       *lists.Builder

	Registry *prometheus.Registry
	Metrics  *monitoring.ResolutionMetrics
}

// New opens the database and cache and builds every service. Call Migrate
// before first use of a fresh database.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	db, err := storage.Open(ctx, cfg.DatabaseDSN(), cfg.Database.SQLite.MaxOpenConns)
	if err != nil {
		return nil, err
	}

	store, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Repos:  storage.NewRepositories(db),
		Cache:  store,
	}

	a.Embedder, err = newEmbedder(cfg.Embedding)
	if err != nil {
		logger.Warn().Err(err).Msg("semantic search disabled")
	}

	a.Vectors = retrieval.NewSQLiteVecAdapter(db)
	a.Lexical = retrieval.NewLexicalIndex(a.Repos.Products, logger.WithOperation("lexical"))

	var semantic resolve.SemanticSearcher
	var itemSemantic history.SemanticSearcher
	if a.Embedder != nil {
		a.Semantic = retrieval.NewSemanticIndex(a.Embedder, a.Vectors, a.Repos.Products)
		semantic = a.Semantic
		itemSemantic = a.Semantic
	}

	if cfg.Observability.MetricsEnabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Metrics = monitoring.NewResolutionMetrics(a.Registry)
	}

	a.Preferences = preferences.NewService(a.Repos.Preferences, a.Repos.Products, logger.WithOperation("preferences"))
	a.Suggester = preferences.NewSuggester(a.Repos.Purchases, a.Repos.Preferences, a.Preferences)
	a.History = history.NewIndex(a.Repos.Purchases)
	a.Matcher = history.NewMatcher(a.Repos.Purchases, a.Lexical, itemSemantic, logger.WithOperation("history_match"))
	a.Frequency = history.NewFrequencyUpdater(a.Repos.Purchases, a.Repos.Frequency, logger.WithOperation("frequency"))

	deps := resolve.Deps{
		Preferences: a.Preferences,
		History:     a.History,
		Purchases:   a.Repos.Purchases,
		Lexical:     a.Lexical,
		Semantic:    semantic,
		Logger:      logger.WithOperation("resolve"),
	}
	checkoutDeps := checkout.Deps{
		Lexical:  a.Lexical,
		History:  a.History,
		Counts:   a.Repos.Purchases,
		Products: a.Repos.Products,
		Store:    store,
		Log:      a.Repos.CheckoutLog,
		Logger:   logger.WithOperation("checkout"),
	}
	if a.Metrics != nil {
		deps.Recorder = a.Metrics
		checkoutDeps.Recorder = a.Metrics
	}
	a.Engine = resolve.NewEngine(deps, resolve.OptionsFromConfig(cfg.Resolution))
	checkoutDeps.Resolver = a.Engine
	a.Checkout = checkout.NewService(checkoutDeps, cfg.Checkout)
	a.Lists = lists.NewBuilder(a.Repos.Recipes, a.Repos.Lists, a.Engine, logger.WithOperation("lists"))

	return a, nil
}

func newEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "mock":
		return embedding.NewMockClient(cfg.Dimension), nil
	case "", "openai":
		client, err := embedding.NewClient(embedding.Config{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			Dimension:         cfg.Dimension,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// Migrate applies the schema and creates the vector table.
func (a *App) Migrate(ctx context.Context) error {
	return storage.Migrate(ctx, a.DB, a.Config.Embedding.Dimension)
}

// Backfiller returns an embedding backfiller, or ErrNoEmbedder.
func (a *App) Backfiller() (*retrieval.Backfiller, error) {
	if a.Embedder == nil {
		return nil, ErrNoEmbedder
	}
	return retrieval.NewBackfiller(a.Repos.Products, a.Embedder, a.Vectors,
		a.Logger.WithOperation("backfill"), a.Config.Embedding.BatchSize, 2), nil
}

// Close releases the cache and database.
func (a *App) Close() error {
	return errors.Join(a.Cache.Close(), a.DB.Close())
}
