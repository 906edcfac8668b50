package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jengzang/trip-planner-go/internal/database"
	"github.com/jengzang/trip-planner-go/internal/models"
)

// TripRepository caches trips and their collaborators for offline display
type TripRepository struct {
	db *sql.DB
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{db: db}
}

// SaveTrip upserts a trip and replaces its collaborator list
func (r *TripRepository) SaveTrip(ctx context.Context, trip models.Trip) error {
	if trip.ID == "" {
		return fmt.Errorf("trip id is required")
	}
	now := time.Now()
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = now
	}
	if trip.UpdatedAt.IsZero() {
		trip.UpdatedAt = now
	}
	if trip.Status == "" {
		trip.Status = models.TripStatusPlanning
	}

	return database.Transaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trips (id, owner_id, name, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				owner_id = excluded.owner_id,
				name = excluded.name,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			trip.ID, trip.OwnerID, trip.Name, string(trip.Status),
			trip.CreatedAt.UnixMilli(), trip.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to save trip: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM trip_collaborators WHERE trip_id = ?`, trip.ID); err != nil {
			return fmt.Errorf("failed to clear collaborators: %w", err)
		}
		for _, c := range trip.Collaborators {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO trip_collaborators (trip_id, user_id, permission) VALUES (?, ?, ?)`,
				trip.ID, c.UserID, string(c.Permission),
			); err != nil {
				return fmt.Errorf("failed to save collaborator %s: %w", c.UserID, err)
			}
		}
		return nil
	})
}

// GetTripByID retrieves a single trip by ID. It returns nil when absent.
func (r *TripRepository) GetTripByID(ctx context.Context, id string) (*models.Trip, error) {
	var (
		t                    models.Trip
		status               string
		createdAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, status, created_at, updated_at FROM trips WHERE id = ?`, id,
	).Scan(&t.ID, &t.OwnerID, &t.Name, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	t.Status = models.TripStatus(status)
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)

	collaborators, err := r.collaborators(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Collaborators = collaborators
	return &t, nil
}

// ListTrips returns every cached trip, newest first
func (r *TripRepository) ListTrips(ctx context.Context) ([]models.Trip, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM trips ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan trip id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	trips := make([]models.Trip, 0, len(ids))
	for _, id := range ids {
		t, err := r.GetTripByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			trips = append(trips, *t)
		}
	}
	return trips, nil
}

// DeleteTrip removes a cached trip; collaborators cascade
func (r *TripRepository) DeleteTrip(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete trip: %w", err)
	}
	return nil
}

func (r *TripRepository) collaborators(ctx context.Context, tripID string) ([]models.Collaborator, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, permission FROM trip_collaborators WHERE trip_id = ? ORDER BY user_id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collaborators: %w", err)
	}
	defer rows.Close()

	var out []models.Collaborator
	for rows.Next() {
		var c models.Collaborator
		var perm string
		if err := rows.Scan(&c.UserID, &perm); err != nil {
			return nil, fmt.Errorf("failed to scan collaborator: %w", err)
		}
		c.Permission = models.Permission(perm)
		out = append(out, c)
	}
	return out, rows.Err()
}
