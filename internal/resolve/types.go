// Package resolve turns free-text grocery terms into catalog products.
package resolve

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spherical-ai/nwshop/internal/config"
	"github.com/spherical-ai/nwshop/internal/retrieval"
	"github.com/spherical-ai/nwshop/internal/storage"
)

// Source names the pipeline stage that produced a result.
type Source string

const (
	SourcePreference      Source = "preference"
	SourcePurchaseHistory Source = "purchase_history"
	SourceSearch          Source = "search"
	SourceNone            Source = "none"
)

// Request is one term to resolve.
type Request struct {
	GenericName   string `json:"genericName"`
	Context       string `json:"context,omitempty"`
	RecipeContext string `json:"recipeContext,omitempty"`
}

// Result is the outcome of resolving one term.
type Result struct {
	GenericName string            `json:"genericName"`
	Resolved    bool              `json:"resolved"`
	ProductID   int64             `json:"productId,omitempty"`
	ProductName string            `json:"productName,omitempty"`
	Brand       string            `json:"brand,omitempty"`
	Price       *decimal.Decimal  `json:"price,omitempty"`
	Confidence  float64           `json:"confidence"`
	Source      Source            `json:"source"`
	Strategy    storage.Strategy  `json:"strategy,omitempty"`
	Candidates  []ScoredCandidate `json:"candidates"`
}

// ScoredCandidate is a merged search candidate with its final score.
type ScoredCandidate struct {
	retrieval.Candidate
	Score float64 `json:"score"`
}

// Options tunes the pipeline.
type Options struct {
	AutoResolveThreshold float64
	LexicalLimit         int
	SemanticLimit        int
	CandidateLimit       int
	SemanticTimeout      time.Duration
	BatchWorkers         int
	Scoring              ScoringConfig
}

// DefaultOptions returns the stock pipeline settings.
func DefaultOptions() Options {
	return Options{
		AutoResolveThreshold: 0.5,
		LexicalLimit:         10,
		SemanticLimit:        10,
		CandidateLimit:       5,
		SemanticTimeout:      5 * time.Second,
		BatchWorkers:         5,
		Scoring:              DefaultScoring(),
	}
}

// OptionsFromConfig maps the resolution config section to Options,
// keeping defaults for unset values.
func OptionsFromConfig(cfg config.ResolutionConfig) Options {
	opts := DefaultOptions()
	if cfg.AutoResolveThreshold > 0 {
		opts.AutoResolveThreshold = cfg.AutoResolveThreshold
	}
	if cfg.LexicalLimit > 0 {
		opts.LexicalLimit = cfg.LexicalLimit
	}
	if cfg.SemanticLimit > 0 {
		opts.SemanticLimit = cfg.SemanticLimit
	}
	if cfg.CandidateLimit > 0 {
		opts.CandidateLimit = cfg.CandidateLimit
	}
	if cfg.SemanticTimeout > 0 {
		opts.SemanticTimeout = cfg.SemanticTimeout
	}
	if cfg.BatchWorkers > 0 {
		opts.BatchWorkers = cfg.BatchWorkers
	}
	if cfg.Weights != (config.WeightsConfig{}) {
		opts.Scoring = ScoringFromWeights(cfg.Weights)
	}
	return opts
}

func priceOf(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
