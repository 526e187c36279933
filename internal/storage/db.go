package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // FTS5 is only compiled in with -tags sqlite_fts5.
)

// ErrFTS5Unavailable is returned when the linked SQLite lacks the FTS5 module.
var ErrFTS5Unavailable = errors.New("sqlite FTS5 module unavailable: build with CGO_ENABLED=1 and -tags sqlite_fts5")

func init() {
	// Registers vec0 and the vec_* functions on every new connection.
	sqlite_vec.Auto()
}

// Open opens the SQLite database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// VecVersion returns the loaded sqlite-vec version, useful for health output.
func VecVersion(ctx context.Context, db DB) (string, error) {
	var version string
	if err := db.QueryRowContext(ctx, `SELECT vec_version()`).Scan(&version); err != nil {
		return "", fmt.Errorf("query vec_version: %w", err)
	}
	return version, nil
}

// CheckFTS5 reports ErrFTS5Unavailable when the SQLite library was compiled
// without FTS5, which the products_fts table needs.
func CheckFTS5(ctx context.Context, db DB) error {
	var enabled bool
	if err := db.QueryRowContext(ctx, `SELECT sqlite_compileoption_used('ENABLE_FTS5')`).Scan(&enabled); err != nil {
		return fmt.Errorf("check fts5: %w", err)
	}
	if !enabled {
		return ErrFTS5Unavailable
	}
	return nil
}
