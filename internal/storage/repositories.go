package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB is the subset of *sql.DB the repositories need.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Repositories groups every repository over one database.
type Repositories struct {
	Products    *ProductRepository
	Preferences *PreferenceRepository
	Purchases   *PurchaseRepository
	Frequency   *FrequencyRepository
	Recipes     *RecipeRepository
	Lists       *ListRepository
	CheckoutLog *CheckoutLogRepository
}

// NewRepositories creates all repositories.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Products:    NewProductRepository(db),
		Preferences: NewPreferenceRepository(db),
		Purchases:   NewPurchaseRepository(db),
		Frequency:   NewFrequencyRepository(db),
		Recipes:     NewRecipeRepository(db),
		Lists:       NewListRepository(db),
		CheckoutLog: NewCheckoutLogRepository(db),
	}
}

// withTx runs fn inside a transaction, rolling back on error.
func withTx(ctx context.Context, db DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// CheckoutLogRepository records checkout session lifecycle events.
type CheckoutLogRepository struct {
	db DB
}

// NewCheckoutLogRepository creates a new checkout log repository.
func NewCheckoutLogRepository(db DB) *CheckoutLogRepository {
	return &CheckoutLogRepository{db: db}
}

// Record appends a session event.
func (r *CheckoutLogRepository) Record(ctx context.Context, sessionID, source string, itemCount int, status string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkout_log (session_id, source, item_count, status)
		VALUES (?, ?, ?, ?)
	`, sessionID, nullString(source), itemCount, status)
	if err != nil {
		return fmt.Errorf("record checkout log: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
