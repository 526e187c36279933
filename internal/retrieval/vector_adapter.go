// Package retrieval provides lexical and semantic product search and the
// merge of both result sets.
package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/spherical-ai/nwshop/internal/storage"
)

// VectorAdapter defines the interface for vector similarity search over
// product embeddings.
type VectorAdapter interface {
	// Search finds the k nearest products to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]VectorResult, error)

	// Insert adds or replaces product vectors.
	Insert(ctx context.Context, vectors []VectorEntry) error

	// Delete removes product vectors.
	Delete(ctx context.Context, productIDs []int64) error

	// Count returns the number of vectors in the index.
	Count(ctx context.Context) (int64, error)

	// Close releases resources.
	Close() error
}

// VectorEntry is one product embedding to index.
type VectorEntry struct {
	ProductID int64
	Vector    []float32
}

// VectorResult is a search hit; Distance is cosine distance in [0,2].
type VectorResult struct {
	ProductID int64
	Distance  float64
}

// ErrVectorDimensionMismatch indicates a dimension mismatch.
var ErrVectorDimensionMismatch = errors.New("vector dimension mismatch")

// MemoryAdapter is an in-process cosine index for tests and development.
type MemoryAdapter struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[int64][]float32
}

// NewMemoryAdapter creates an empty in-memory index of the given dimension.
func NewMemoryAdapter(dimension int) *MemoryAdapter {
	return &MemoryAdapter{
		dimension: dimension,
		vectors:   make(map[int64][]float32),
	}
}

// Search returns the k nearest vectors. A query of the wrong dimension
// yields no results.
func (a *MemoryAdapter) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(query) != a.dimension || k <= 0 {
		return []VectorResult{}, nil
	}

	q := normalizeVector(query)
	results := make([]VectorResult, 0, len(a.vectors))
	for id, v := range a.vectors {
		results = append(results, VectorResult{ProductID: id, Distance: cosineDistance(q, v)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ProductID < results[j].ProductID
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Insert adds vectors to the index.
func (a *MemoryAdapter) Insert(ctx context.Context, vectors []VectorEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, v := range vectors {
		if len(v.Vector) != a.dimension {
			return fmt.Errorf("%w: expected %d, got %d for product %d",
				ErrVectorDimensionMismatch, a.dimension, len(v.Vector), v.ProductID)
		}
	}
	for _, v := range vectors {
		a.vectors[v.ProductID] = normalizeVector(v.Vector)
	}
	return nil
}

// Delete removes vectors from the index.
func (a *MemoryAdapter) Delete(ctx context.Context, productIDs []int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range productIDs {
		delete(a.vectors, id)
	}
	return nil
}

// Count returns the number of vectors in the index.
func (a *MemoryAdapter) Count(ctx context.Context) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int64(len(a.vectors)), nil
}

// Close releases resources.
func (a *MemoryAdapter) Close() error {
	return nil
}

// cosineDistance computes 1 - dot(a, b) for normalized vectors.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 1.0
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	// Clamp to [-1, 1] range due to floating point errors
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}
	return 1 - dot
}

// normalizeVector returns a unit-length copy of v.
func normalizeVector(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// SQLiteVecAdapter stores product vectors in the sqlite-vec vec_products
// table created by storage.Migrate.
type SQLiteVecAdapter struct {
	db storage.DB
}

// NewSQLiteVecAdapter creates an adapter over db.
func NewSQLiteVecAdapter(db storage.DB) *SQLiteVecAdapter {
	return &SQLiteVecAdapter{db: db}
}

// Search runs a k-NN query; distances come from the table's cosine metric.
func (a *SQLiteVecAdapter) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	if k <= 0 {
		return []VectorResult{}, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT product_id, distance
		FROM vec_products
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, blob, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	results := make([]VectorResult, 0, k)
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.ProductID, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Insert writes vectors in its own transaction.
func (a *SQLiteVecAdapter) Insert(ctx context.Context, vectors []VectorEntry) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := a.InsertTx(ctx, tx, vectors); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InsertTx writes vectors inside the caller's transaction. vec0 has no
// upsert, so existing rows are deleted first.
func (a *SQLiteVecAdapter) InsertTx(ctx context.Context, tx *sql.Tx, vectors []VectorEntry) error {
	for _, v := range vectors {
		blob, err := sqlite_vec.SerializeFloat32(v.Vector)
		if err != nil {
			return fmt.Errorf("serialize vector for product %d: %w", v.ProductID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_products WHERE product_id = ?`, v.ProductID); err != nil {
			return fmt.Errorf("replace vector for product %d: %w", v.ProductID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vec_products (product_id, embedding) VALUES (?, ?)
		`, v.ProductID, blob); err != nil {
			return fmt.Errorf("insert vector for product %d: %w", v.ProductID, err)
		}
	}
	return nil
}

// Delete removes product vectors.
func (a *SQLiteVecAdapter) Delete(ctx context.Context, productIDs []int64) error {
	for _, id := range productIDs {
		if _, err := a.db.ExecContext(ctx, `DELETE FROM vec_products WHERE product_id = ?`, id); err != nil {
			return fmt.Errorf("delete vector for product %d: %w", id, err)
		}
	}
	return nil
}

// Count returns the number of stored vectors.
func (a *SQLiteVecAdapter) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vec_products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

// Close is a no-op; the database handle is owned by the caller.
func (a *SQLiteVecAdapter) Close() error {
	return nil
}

var (
	_ VectorAdapter = (*MemoryAdapter)(nil)
	_ VectorAdapter = (*SQLiteVecAdapter)(nil)
)
