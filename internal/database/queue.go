package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"studysync/internal/models"

	"github.com/google/uuid"
)

const actionColumns = `id, method, url, headers, body, created_at, retry_count, status, error`

// Add inserts a new action. ID, Status and Timestamp are filled in when empty.
func (db *DB) Add(ctx context.Context, action *models.QueuedAction) (string, error) {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Status == "" {
		action.Status = models.ActionPending
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}

	var headers sql.NullString
	if len(action.Headers) > 0 {
		raw, err := json.Marshal(action.Headers)
		if err != nil {
			return "", fmt.Errorf("encode headers: %w", err)
		}
		headers = sql.NullString{String: string(raw), Valid: true}
	}

	query := `INSERT INTO queued_actions (` + actionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		action.ID,
		action.Method,
		action.URL,
		headers,
		[]byte(action.Body),
		action.Timestamp.UnixNano(),
		action.RetryCount,
		string(action.Status),
		action.Error,
	)
	if err != nil {
		return "", models.NewStorageError("add", fmt.Errorf("failed to insert action: %w", err))
	}
	return action.ID, nil
}

func (db *DB) Get(ctx context.Context, id string) (*models.QueuedAction, error) {
	query := `SELECT ` + actionColumns + ` FROM queued_actions WHERE id = ?`
	action, err := scanAction(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewStorageError("get", fmt.Errorf("failed to get action %s: %w", id, err))
	}
	return action, nil
}

// List returns a snapshot ordered by creation time, then insertion order.
func (db *DB) List(ctx context.Context, filter models.ActionFilter) ([]models.QueuedAction, error) {
	query := `SELECT ` + actionColumns + ` FROM queued_actions`
	var args []interface{}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.NewStorageError("list", fmt.Errorf("failed to list actions: %w", err))
	}
	defer rows.Close()

	var actions []models.QueuedAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, models.NewStorageError("list", fmt.Errorf("failed to scan action: %w", err))
		}
		actions = append(actions, *action)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError("list", err)
	}
	return actions, nil
}

// Update merges patch into the stored row with a single statement.
func (db *DB) Update(ctx context.Context, id string, patch models.ActionPatch) error {
	var sets []string
	var args []interface{}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *patch.RetryCount)
	}
	if patch.ClearError {
		sets = append(sets, "error = NULL")
	} else if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *patch.Error)
	}

	if len(sets) == 0 {
		_, err := db.Get(ctx, id)
		return err
	}

	query := `UPDATE queued_actions SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return models.NewStorageError("update", fmt.Errorf("failed to update action %s: %w", id, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return models.NewStorageError("update", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Remove deletes an action. Removing a missing id is not an error.
func (db *DB) Remove(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM queued_actions WHERE id = ?`, id); err != nil {
		return models.NewStorageError("remove", fmt.Errorf("failed to remove action %s: %w", id, err))
	}
	return nil
}

func (db *DB) Clear(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM queued_actions`); err != nil {
		return models.NewStorageError("clear", fmt.Errorf("failed to clear actions: %w", err))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*models.QueuedAction, error) {
	var (
		a         models.QueuedAction
		headers   sql.NullString
		body      []byte
		createdAt int64
		status    string
		lastError sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Method, &a.URL, &headers, &body, &createdAt, &a.RetryCount, &status, &lastError); err != nil {
		return nil, err
	}

	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &a.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", a.ID, err)
		}
	}
	if len(body) > 0 {
		a.Body = json.RawMessage(body)
	}
	a.Timestamp = time.Unix(0, createdAt).UTC()
	a.Status = models.ActionStatus(status)
	if lastError.Valid {
		msg := lastError.String
		a.Error = &msg
	}
	return &a, nil
}
