package database

import (
	"context"
	"fmt"
	"time"

	"studysync/internal/models"
)

const syncLeaseName = "sync"

// AcquireLease takes or extends the pass lease with one conditional upsert.
func (db *DB) AcquireLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixNano()
	query := `INSERT INTO sync_lease (name, owner, expires_at) VALUES (?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
        WHERE sync_lease.owner = excluded.owner OR sync_lease.expires_at <= ?`

	result, err := db.ExecContext(ctx, query, syncLeaseName, owner, now+ttl.Nanoseconds(), now)
	if err != nil {
		return false, models.NewStorageError("lease", fmt.Errorf("failed to acquire sync lease: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, models.NewStorageError("lease", err)
	}
	return affected > 0, nil
}

// ReleaseLease drops the lease if owner still holds it.
func (db *DB) ReleaseLease(ctx context.Context, owner string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sync_lease WHERE name = ? AND owner = ?`, syncLeaseName, owner)
	if err != nil {
		return models.NewStorageError("lease", fmt.Errorf("failed to release sync lease: %w", err))
	}
	return nil
}
