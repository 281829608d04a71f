package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studysync/internal/config"
	"studysync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	logger := zerolog.Nop()

	db, err := NewDB(filepath.Join(tempDir, "queue.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.Add(ctx, &models.QueuedAction{Method: "POST", URL: "/api/sessions"})
	require.NoError(t, err)

	storagePath := filepath.Join(tempDir, "backups")
	s := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: storagePath, RetentionDays: 1}, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(ctx)
		require.NoError(t, err)

		restored, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer restored.Close()

		actions, err := restored.List(ctx, models.ActionFilter{})
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, "/api/sessions", actions[0].URL)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, "queue_old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))
		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		assert.Equal(t, 1, s.CleanupOldBackups())

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		assert.Len(t, files, 1)
		assert.NotEqual(t, "queue_old.db", files[0].Name())
	})
}

func TestBackupService_InMemory(t *testing.T) {
	db := setupTestDB(t)
	logger := zerolog.Nop()
	s := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: t.TempDir()}, &logger)

	_, err := s.PerformBackup(context.Background())
	assert.Error(t, err)
}

func TestBackupService_Disabled(_ *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService(nil, config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
}
