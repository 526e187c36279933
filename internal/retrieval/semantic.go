package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical-ai/nwshop/internal/embedding"
	"github.com/spherical-ai/nwshop/internal/storage"
)

// ProductLoader loads catalog products by id, preserving order.
type ProductLoader interface {
	GetByIDs(ctx context.Context, ids []int64) ([]storage.Product, error)
}

// SemanticHit is a vector match; lower Distance is closer.
type SemanticHit struct {
	storage.Product
	Distance float64
}

// SemanticIndex embeds a query and looks up the nearest products.
type SemanticIndex struct {
	embedder embedding.Embedder
	adapter  VectorAdapter
	products ProductLoader
}

// NewSemanticIndex creates a semantic index.
func NewSemanticIndex(embedder embedding.Embedder, adapter VectorAdapter, products ProductLoader) *SemanticIndex {
	return &SemanticIndex{embedder: embedder, adapter: adapter, products: products}
}

// Search returns up to limit products nearest to query. Blank queries return
// nothing without calling the provider.
func (s *SemanticIndex) Search(ctx context.Context, query string, limit int) ([]SemanticHit, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []SemanticHit{}, nil
	}

	vec, err := s.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.adapter.Search(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []SemanticHit{}, nil
	}

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ProductID
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load semantic matches: %w", err)
	}

	byID := make(map[int64]storage.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	hits := make([]SemanticHit, 0, len(results))
	for _, r := range results {
		if p, ok := byID[r.ProductID]; ok {
			hits = append(hits, SemanticHit{Product: p, Distance: r.Distance})
		}
	}
	return hits, nil
}
