//go:build !sqlite_fts5

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_WithoutFTS5NamesBuildTag(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "nofts.db")
	db, err := Open(context.Background(), dsn, 1)
	require.NoError(t, err)
	defer db.Close()

	err = Migrate(context.Background(), db, 4)
	require.ErrorIs(t, err, ErrFTS5Unavailable)
	assert.Contains(t, err.Error(), "-tags sqlite_fts5")

	status, err := Status(db)
	require.NoError(t, err)
	assert.Zero(t, status.Version)
}
