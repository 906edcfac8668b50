package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/stream"
	"go.uber.org/zap"
)

const locationColumns = `id, name, address, latitude, longitude, added_at, scheduled_date, stay_seconds,
		is_skipped, trip_id, user_id, fingerprint, source, is_synced, last_synced_at`

// LocationRepository is the durable local store of location records. All
// mutations are serialized and every committed mutation is followed by a
// full snapshot to each watcher.
type LocationRepository struct {
	db     *sql.DB
	logger *zap.Logger

	mu       sync.Mutex
	watchers map[*stream.Pump[[]models.Location]]struct{}
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db *sql.DB, logger *zap.Logger) *LocationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocationRepository{
		db:       db,
		logger:   logger,
		watchers: make(map[*stream.Pump[[]models.Location]]struct{}),
	}
}

// Get retrieves a single location by ID. It returns nil when absent.
func (r *LocationRepository) Get(ctx context.Context, id string) (*models.Location, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = ?`, id)
	loc, err := scanLocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return &loc, nil
}

// List returns every location in insertion order
func (r *LocationRepository) List(ctx context.Context) ([]models.Location, error) {
	return r.query(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY added_at, rowid`)
}

// ListUnsynced returns records still waiting for a remote push
func (r *LocationRepository) ListUnsynced(ctx context.Context) ([]models.Location, error) {
	return r.query(ctx, `SELECT `+locationColumns+` FROM locations WHERE is_synced = 0 ORDER BY added_at, rowid`)
}

// Put inserts or replaces a location
func (r *LocationRepository) Put(ctx context.Context, loc models.Location) error {
	return r.Apply(ctx, []models.Location{loc}, nil)
}

// PutMany writes every location in one transaction with one notification
func (r *LocationRepository) PutMany(ctx context.Context, locs []models.Location) error {
	return r.Apply(ctx, locs, nil)
}

// Delete removes a location. Deleting a missing id is not a mutation.
func (r *LocationRepository) Delete(ctx context.Context, id string) error {
	return r.Apply(ctx, nil, []string{id})
}

// DeletePending removes a location and records that the backend still holds
// a copy owned by userID. The tombstone stays until ClearPendingDelete.
func (r *LocationRepository) DeletePending(ctx context.Context, id, userID string) error {
	return r.apply(ctx, nil, []string{id}, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_deletes (id, user_id, deleted_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, deleted_at = excluded.deleted_at`,
			id, userID, time.Now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to record pending delete %s: %w", id, err)
		}
		return nil
	})
}

// PendingDeletes returns ids userID deleted locally that the backend may
// still hold, oldest first
func (r *LocationRepository) PendingDeletes(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM pending_deletes WHERE user_id = ? ORDER BY deleted_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending deletes: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending delete: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending deletes: %w", err)
	}
	return ids, nil
}

// ClearPendingDelete drops the tombstone for id
func (r *LocationRepository) ClearPendingDelete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_deletes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear pending delete %s: %w", id, err)
	}
	return nil
}

// Apply writes puts and deletes in one transaction and notifies watchers once
func (r *LocationRepository) Apply(ctx context.Context, puts []models.Location, deletes []string) error {
	return r.apply(ctx, puts, deletes, nil)
}

func (r *LocationRepository) apply(ctx context.Context, puts []models.Location, deletes []string, extra func(*sql.Tx) error) error {
	for _, loc := range puts {
		if err := loc.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	changed := false
	for _, id := range deletes {
		res, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to delete location %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			changed = true
		}
	}

	for _, loc := range puts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO locations (`+locationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				address = excluded.address,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				added_at = excluded.added_at,
				scheduled_date = excluded.scheduled_date,
				stay_seconds = excluded.stay_seconds,
				is_skipped = excluded.is_skipped,
				trip_id = excluded.trip_id,
				user_id = excluded.user_id,
				fingerprint = excluded.fingerprint,
				source = excluded.source,
				is_synced = excluded.is_synced,
				last_synced_at = excluded.last_synced_at`,
			locationArgs(loc)...,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to put location %s: %w", loc.ID, err)
		}
		changed = true
	}

	if extra != nil {
		if err := extra(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit locations: %w", err)
	}

	if changed {
		r.broadcastLocked(ctx)
	}
	return nil
}

// Watch streams the full collection: once immediately, then after every
// mutation. Each watcher gets an independent ordered stream that closes when
// ctx is done.
func (r *LocationRepository) Watch(ctx context.Context) (<-chan []models.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	pump := stream.NewPump[[]models.Location](ctx)
	pump.Send(snapshot)
	r.watchers[pump] = struct{}{}

	go func() {
		<-pump.Stopped()
		r.mu.Lock()
		delete(r.watchers, pump)
		r.mu.Unlock()
	}()

	return pump.C(), nil
}

func (r *LocationRepository) broadcastLocked(ctx context.Context) {
	if len(r.watchers) == 0 {
		return
	}
	// Use a detached context so a cancelled writer still notifies watchers.
	snapshot, err := r.List(context.WithoutCancel(ctx))
	if err != nil {
		r.logger.Error("failed to load snapshot for watchers", zap.Error(err))
		return
	}
	for pump := range r.watchers {
		pump.Send(cloneLocations(snapshot))
	}
}

func (r *LocationRepository) query(ctx context.Context, query string, args ...interface{}) ([]models.Location, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	locations := []models.Location{}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read locations: %w", err)
	}
	return locations, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLocation(row rowScanner) (models.Location, error) {
	var (
		l             models.Location
		addedAt       int64
		scheduledDate sql.NullString
		staySeconds   int64
		tripID        sql.NullString
		source        string
		lastSyncedAt  sql.NullInt64
	)
	err := row.Scan(
		&l.ID, &l.Name, &l.Address, &l.Latitude, &l.Longitude, &addedAt, &scheduledDate, &staySeconds,
		&l.IsSkipped, &tripID, &l.UserID, &l.Fingerprint, &source, &l.IsSynced, &lastSyncedAt,
	)
	if err != nil {
		return models.Location{}, err
	}

	l.AddedAt = time.UnixMilli(addedAt)
	l.StayDuration = time.Duration(staySeconds) * time.Second
	l.Source = models.LocationSource(source)
	if scheduledDate.Valid {
		d := models.Date(scheduledDate.String)
		l.ScheduledDate = &d
	}
	if tripID.Valid && tripID.String != "" {
		id := tripID.String
		l.TripID = &id
	}
	if lastSyncedAt.Valid {
		t := time.UnixMilli(lastSyncedAt.Int64)
		l.LastSyncedAt = &t
	}
	return l, nil
}

func locationArgs(l models.Location) []interface{} {
	var scheduledDate, tripID, lastSyncedAt interface{}
	if l.ScheduledDate != nil {
		scheduledDate = string(*l.ScheduledDate)
	}
	if !l.IsUnassigned() {
		tripID = *l.TripID
	}
	if l.LastSyncedAt != nil {
		lastSyncedAt = l.LastSyncedAt.UnixMilli()
	}
	source := l.Source
	if source == "" {
		source = models.SourceLocal
	}
	return []interface{}{
		l.ID, l.Name, l.Address, l.Latitude, l.Longitude, l.AddedAt.UnixMilli(), scheduledDate,
		int64(l.StayDuration / time.Second), l.IsSkipped, tripID, l.UserID, l.Fingerprint,
		string(source), l.IsSynced, lastSyncedAt,
	}
}

func cloneLocations(in []models.Location) []models.Location {
	out := make([]models.Location, len(in))
	for i, l := range in {
		out[i] = l.Clone()
	}
	return out
}
