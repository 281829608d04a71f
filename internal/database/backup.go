package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"studysync/internal/config"

	"github.com/rs/zerolog"
)

// BackupService periodically snapshots the queue database with VACUUM INTO.
type BackupService struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("queue backup is disabled")
		return
	}

	interval := 24 * time.Hour
	if s.config.Schedule != "" {
		if d, err := time.ParseDuration(s.config.Schedule); err == nil && d > 0 {
			interval = d
		} else {
			s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("invalid backup schedule, using 24h")
		}
	}

	s.logger.Info().Dur("interval", interval).Msg("queue backup started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.PerformBackup(ctx); err != nil {
			s.logger.Error().Err(err).Msg("queue backup failed")
		}
		s.CleanupOldBackups()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PerformBackup writes a consistent copy of the queue database and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if s.db.Path() == ":memory:" {
		return "", fmt.Errorf("in-memory database cannot be backed up")
	}
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("queue_%s.db", time.Now().UTC().Format("20060102_150405.000000000"))
	backupPath := filepath.Join(s.config.StoragePath, name)

	// VACUUM INTO takes no bind parameters.
	quoted := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", backupPath, err)
	}

	s.logger.Info().Str("path", backupPath).Msg("queue backup completed")
	return backupPath, nil
}

// CleanupOldBackups removes snapshots older than RetentionDays.
func (s *BackupService) CleanupOldBackups() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read backup directory for cleanup")
		return 0
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "queue_") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.config.StoragePath, file.Name())); err != nil {
				s.logger.Warn().Err(err).Str("file", file.Name()).Msg("failed to delete old backup")
				continue
			}
			removed++
		}
	}
	return removed
}
