package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/nwshop/internal/embedding"
	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/storage"
)

// EmbeddingCatalog is the product store side of the backfill.
type EmbeddingCatalog interface {
	ListUnembedded(ctx context.Context, limit int) ([]storage.Product, error)
	MarkEmbedded(ctx context.Context, tx *sql.Tx, ids []int64) error
	EmbeddingCoverage(ctx context.Context) (embedded, total int, err error)
	Begin(ctx context.Context) (*sql.Tx, error)
}

// txVectorWriter is implemented by adapters that can join the catalog
// transaction.
type txVectorWriter interface {
	InsertTx(ctx context.Context, tx *sql.Tx, vectors []VectorEntry) error
}

// BackfillProgress is called after every batch with the number of products
// processed so far and the number pending at start.
type BackfillProgress func(done, total int)

// BackfillResult summarises a backfill run.
type BackfillResult struct {
	BatchID       string
	Pending       int
	Embedded      int
	Failed        int
	CoverageDone  int
	CoverageTotal int
	Duration      time.Duration
}

// Backfiller embeds catalog products that have no vector yet.
type Backfiller struct {
	catalog    EmbeddingCatalog
	embedder   embedding.Embedder
	adapter    VectorAdapter
	logger     *observability.Logger
	batchSize  int
	maxWorkers int
}

// NewBackfiller creates a backfiller. Non-positive sizes fall back to
// 100 products per batch and 2 parallel batches.
func NewBackfiller(catalog EmbeddingCatalog, embedder embedding.Embedder, adapter VectorAdapter, logger *observability.Logger, batchSize, maxWorkers int) *Backfiller {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Backfiller{
		catalog:    catalog,
		embedder:   embedder,
		adapter:    adapter,
		logger:     logger,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
	}
}

// EmbeddingText is the text embedded for a product: name, brand, generic
// name, category and subcategory, blanks skipped.
func EmbeddingText(p storage.Product) string {
	parts := make([]string, 0, 5)
	for _, s := range []string{p.Name, p.Brand, p.GenericName, p.Category, p.Subcategory} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Backfill embeds every pending product. A batch that fails is logged and
// skipped; only context cancellation aborts the run.
func (b *Backfiller) Backfill(ctx context.Context, progress BackfillProgress) (*BackfillResult, error) {
	start := time.Now()
	result := &BackfillResult{BatchID: uuid.NewString()}
	logger := b.logger.WithBatch(result.BatchID)

	pending, err := b.catalog.ListUnembedded(ctx, 0)
	if err != nil {
		return nil, err
	}
	result.Pending = len(pending)

	var (
		mu   sync.Mutex
		done int
	)
	report := func(n int, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		done += n
		if ok {
			result.Embedded += n
		} else {
			result.Failed += n
		}
		if progress != nil {
			progress(done, len(pending))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxWorkers)

	for i := 0; i < len(pending); i += b.batchSize {
		end := i + b.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[i:end]

		g.Go(func() error {
			if err := b.embedBatch(gctx, batch); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn().
					Int64("first_product_id", batch[0].ID).
					Int("size", len(batch)).
					Err(err).
					Msg("embedding batch failed, skipping")
				report(len(batch), false)
				return nil
			}
			report(len(batch), true)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	result.CoverageDone, result.CoverageTotal, err = b.catalog.EmbeddingCoverage(ctx)
	if err != nil {
		return result, err
	}
	result.Duration = time.Since(start)

	logger.Info().
		Int("embedded", result.Embedded).
		Int("failed", result.Failed).
		Int("coverage", result.CoverageDone).
		Int("total", result.CoverageTotal).
		Dur("duration", result.Duration).
		Msg("embedding backfill complete")

	return result, nil
}

func (b *Backfiller) embedBatch(ctx context.Context, batch []storage.Product) error {
	texts := make([]string, len(batch))
	ids := make([]int64, len(batch))
	for i, p := range batch {
		texts[i] = EmbeddingText(p)
		ids[i] = p.ID
	}

	vectors, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embed batch: got %d vectors for %d products", len(vectors), len(batch))
	}

	entries := make([]VectorEntry, len(batch))
	for i := range batch {
		entries[i] = VectorEntry{ProductID: ids[i], Vector: vectors[i]}
	}

	txWriter, joinsTx := b.adapter.(txVectorWriter)
	if !joinsTx {
		if err := b.adapter.Insert(ctx, entries); err != nil {
			return err
		}
	}

	tx, err := b.catalog.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if joinsTx {
		if err := txWriter.InsertTx(ctx, tx, entries); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := b.catalog.MarkEmbedded(ctx, tx, ids); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
