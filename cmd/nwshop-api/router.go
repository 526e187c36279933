// Package main provides the API router setup.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spherical-ai/nwshop/cmd/nwshop-api/handlers"
	"github.com/spherical-ai/nwshop/cmd/nwshop-api/middleware"
	"github.com/spherical-ai/nwshop/internal/api/grpc"
	"github.com/spherical-ai/nwshop/internal/app"
	"github.com/spherical-ai/nwshop/internal/observability"
)

// Pinger checks database connectivity.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services are the dependencies of the API routes.
type Services struct {
	Resolver    handlers.Resolver
	Preferences handlers.PreferenceService
	Suggester   handlers.SuggestionSource
	Checkout    handlers.CheckoutService
	Lists       handlers.ListBuilder
	DB          Pinger
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// ServicesFromApp adapts the wired application.
func ServicesFromApp(a *app.App) Services {
	s := Services{
		Resolver:    a.Engine,
		Preferences: a.Preferences,
		Suggester:   a.Suggester,
		Checkout:    a.Checkout,
		Lists:       a.Lists,
		DB:          a.DB,
	}
	if a.Registry != nil {
		s.Gatherer = a.Registry
	}
	return s
}

// AppConfig holds router configuration.
type AppConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	AuthConfig     middleware.AuthConfig
}

// DefaultAppConfig returns default configuration values.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		RequestTimeout: 30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, svc Services, cfg *AppConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.TraceID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	// Health check (unauthenticated)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"nwshop"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if svc.DB != nil {
			if err := svc.DB.PingContext(r.Context()); err != nil {
				logger.WithContext(r.Context()).Warn().Err(err).Msg("readiness check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	if svc.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{}))
	}

	resolveHandler := handlers.NewResolveHandler(logger, svc.Resolver)
	preferenceHandler := handlers.NewPreferenceHandler(logger, svc.Preferences, svc.Suggester)
	checkoutHandler := handlers.NewCheckoutHandler(logger, svc.Checkout)
	listHandler := handlers.NewListHandler(logger, svc.Lists)

	auth := middleware.Auth(cfg.AuthConfig)

	// Connect RPC
	rpcPath, rpcHandler := grpc.NewResolverService(logger.WithOperation("rpc"), svc.Resolver).Handler()
	r.Mount(rpcPath, auth(rpcHandler))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)

		r.Route("/resolve", func(r chi.Router) {
			r.Post("/", resolveHandler.Resolve)
			r.Post("/batch", resolveHandler.ResolveBatch)
		})

		r.Route("/preferences", func(r chi.Router) {
			r.Get("/", preferenceHandler.List)
			r.Put("/", preferenceHandler.Put)
			r.Get("/suggestions", preferenceHandler.Suggestions)
			r.Get("/{genericName}", preferenceHandler.Get)
		})

		r.Route("/checkout/sessions", func(r chi.Router) {
			r.Post("/", checkoutHandler.Create)
			r.Get("/{id}", checkoutHandler.Get)
			r.Post("/{id}/items/{index}/select", checkoutHandler.Select)
		})

		r.Post("/lists", listHandler.Build)
	})

	return r
}
