//go:build sqlite_fts5

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFTS5_Enabled(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "fts.db")
	db, err := Open(context.Background(), dsn, 1)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, CheckFTS5(context.Background(), db))
}
