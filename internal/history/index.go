// Package history answers purchase-history questions for resolution and
// keeps purchase items and frequency statistics up to date.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/spherical-ai/nwshop/internal/storage"
	"github.com/spherical-ai/nwshop/internal/textmatch"
)

// PurchaseStore is the read side of purchase history.
type PurchaseStore interface {
	CountsByProduct(ctx context.Context) (map[int64]int, error)
	QueryByNameWords(ctx context.Context, words []string, limit int) ([]storage.PurchasedProduct, error)
}

// CountCache memoizes buy counts per product for the lifetime of one
// resolution batch. It is safe for concurrent use.
type CountCache struct {
	store PurchaseStore

	mu     sync.Mutex
	counts map[int64]int
}

// NewCountCache creates an empty cache over store.
func NewCountCache(store PurchaseStore) *CountCache {
	return &CountCache{store: store}
}

// Counts loads the buy counts on first use. Failed loads are not cached.
func (c *CountCache) Counts(ctx context.Context) (map[int64]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts != nil {
		return c.counts, nil
	}

	counts, err := c.store.CountsByProduct(ctx)
	if err != nil {
		return nil, fmt.Errorf("load purchase counts: %w", err)
	}
	if counts == nil {
		counts = map[int64]int{}
	}
	c.counts = counts
	return counts, nil
}

// Invalidate drops the memoized counts.
func (c *CountCache) Invalidate() {
	c.mu.Lock()
	c.counts = nil
	c.mu.Unlock()
}

// Index looks up previously bought products by name.
type Index struct {
	store PurchaseStore
}

// NewIndex creates a purchase history index.
func NewIndex(store PurchaseStore) *Index {
	return &Index{store: store}
}

// FindBestPurchasedMatch returns the most bought product whose name holds
// every significant word of term, or nil when nothing qualifies.
func (i *Index) FindBestPurchasedMatch(ctx context.Context, term string) (*storage.PurchasedProduct, error) {
	matches, err := i.PurchasedMatches(ctx, term, 1)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// PurchasedMatches returns up to limit previously bought products matching
// all significant words of term, most bought first.
func (i *Index) PurchasedMatches(ctx context.Context, term string, limit int) ([]storage.PurchasedProduct, error) {
	words := textmatch.SignificantWords(term)
	if len(words) == 0 {
		return nil, nil
	}

	matches, err := i.store.QueryByNameWords(ctx, words, limit)
	if err != nil {
		return nil, fmt.Errorf("query purchase history: %w", err)
	}
	return matches, nil
}
