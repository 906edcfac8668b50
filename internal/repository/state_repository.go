package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Keys persisted in app_state
const (
	KeyActiveTripID = "active_trip_id"
	KeySelectedDate = "selected_date"
	KeyActorUserID  = "actor_user_id"
)

// StateRepository persists small actor-local values such as the active trip pointer
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository creates a new state repository
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get returns the value for key and whether it was present
func (r *StateRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key
func (r *StateRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (r *StateRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM app_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete state %s: %w", key, err)
	}
	return nil
}
