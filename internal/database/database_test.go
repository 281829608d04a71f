package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "nested", "dir", "queue.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_ReopenKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	logger := zerolog.Nop()
	ctx := context.Background()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	id, err := db.Add(ctx, newAction("POST", "/api/sessions"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/api/sessions", got.URL)
}

func TestNewDB_BadPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	logger := zerolog.Nop()

	_, err := NewDB(filepath.Join(file, "queue.db"), &logger)
	assert.Error(t, err)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.PingContext(context.Background()))
}
