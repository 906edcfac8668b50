// Package syncengine reconciles the local location store with the remote
// backend: local-first writes, the login merge, retries and realtime apply.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/internal/eventbus"
	"github.com/jengzang/trip-planner-go/internal/fingerprint"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/remote"
	"github.com/jengzang/trip-planner-go/internal/repository"
	"go.uber.org/zap"
)

// Engine owns every write path between the local store and the backend
type Engine struct {
	// RetryDelay is how long Run waits before resubscribing after a failure
	RetryDelay time.Duration

	store   *repository.LocationRepository
	backend remote.Backend
	bus     *eventbus.Bus
	logger  *zap.Logger
	now     func() time.Time

	// session serializes the merge and retry passes
	session sync.Mutex

	mu           sync.Mutex
	actor        auth.Actor
	mergedFor    string
	actorChanged chan struct{}
}

// New creates an engine for the anonymous actor
func New(store *repository.LocationRepository, backend remote.Backend, bus *eventbus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		RetryDelay:   5 * time.Second,
		store:        store,
		backend:      backend,
		bus:          bus,
		logger:       logger.Named("sync"),
		now:          time.Now,
		actorChanged: make(chan struct{}, 1),
	}
}

// SetActor switches the actor. A new authenticated actor needs a fresh merge.
func (e *Engine) SetActor(actor auth.Actor) {
	e.mu.Lock()
	changed := e.actor != actor
	e.actor = actor
	if changed {
		e.mergedFor = ""
	}
	e.mu.Unlock()

	if changed {
		select {
		case e.actorChanged <- struct{}{}:
		default:
		}
	}
}

// Actor returns the current actor
func (e *Engine) Actor() auth.Actor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.actor
}

// AddLocation stamps ownership and derived fields, writes locally, then
// pushes best-effort when signed in. It returns the stored record.
func (e *Engine) AddLocation(ctx context.Context, loc models.Location) (models.Location, error) {
	actor := e.Actor()

	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	if loc.AddedAt.IsZero() {
		loc.AddedAt = e.now()
	}
	if loc.StayDuration == 0 {
		loc.StayDuration = models.DefaultStayDuration
	}
	if err := normalizeDate(&loc); err != nil {
		return models.Location{}, err
	}
	if loc.Fingerprint == "" {
		loc.Fingerprint = fingerprint.Compute(loc.Name, loc.Latitude, loc.Longitude)
	}
	loc.UserID = actor.UserID
	loc.Source = models.SourceLocal
	if !actor.IsAnonymous() {
		loc.Source = models.SourceRemote
	}
	loc.IsSynced = false
	loc.LastSyncedAt = nil
	loc.ClearTravel()

	if err := e.store.Put(ctx, loc); err != nil {
		return models.Location{}, fmt.Errorf("failed to add location: %w", err)
	}
	if !actor.IsAnonymous() {
		e.push(ctx, "add", &loc)
	}
	return loc, nil
}

// UpdateLocation writes a changed record locally and pushes it best-effort.
// The fingerprint follows the record's name and position.
func (e *Engine) UpdateLocation(ctx context.Context, loc models.Location) (models.Location, error) {
	actor := e.Actor()

	if err := normalizeDate(&loc); err != nil {
		return models.Location{}, err
	}
	loc.Fingerprint = fingerprint.Compute(loc.Name, loc.Latitude, loc.Longitude)
	loc.IsSynced = false
	loc.ClearTravel()

	if err := e.store.Put(ctx, loc); err != nil {
		return models.Location{}, fmt.Errorf("failed to update location: %w", err)
	}
	if !actor.IsAnonymous() {
		e.push(ctx, "update", &loc)
	}
	return loc, nil
}

// DeleteLocation removes a record locally and, for records the backend
// knows about, remotely. A failed remote delete leaves a tombstone that
// SyncUnsyncedLocations retries.
func (e *Engine) DeleteLocation(ctx context.Context, id string) error {
	existing, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	actor := e.Actor()
	if actor.IsAnonymous() || existing.Source != models.SourceRemote {
		if err := e.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete location: %w", err)
		}
		return nil
	}

	if err := e.store.DeletePending(ctx, id, actor.UserID); err != nil {
		return fmt.Errorf("failed to delete location: %w", err)
	}
	e.deleteRemote(ctx, "delete", id)
	return nil
}

// SyncOnLogin merges anonymous local records into the signed-in user's
// remote set. Matching fingerprints take the remote identity with the local
// offline edits; the rest are promoted and uploaded; remote records missing
// locally are cached. Running it twice changes nothing.
func (e *Engine) SyncOnLogin(ctx context.Context) error {
	e.session.Lock()
	defer e.session.Unlock()
	return e.mergeLocked(ctx)
}

// SyncUnsyncedLocations retries every pending push for the actor and
// returns how many succeeded. The login merge runs first if it has not
// completed for this actor.
func (e *Engine) SyncUnsyncedLocations(ctx context.Context) (int, error) {
	e.session.Lock()
	defer e.session.Unlock()

	actor := e.Actor()
	if actor.IsAnonymous() {
		return 0, nil
	}

	synced := e.flushDeletesLocked(ctx, actor)

	e.mu.Lock()
	merged := e.mergedFor == actor.UserID
	e.mu.Unlock()
	if !merged {
		if err := e.mergeLocked(ctx); err != nil {
			return synced, err
		}
	}

	pending, err := e.store.ListUnsynced(ctx)
	if err != nil {
		return synced, err
	}

	retry := make([]models.Location, 0, len(pending))
	for _, loc := range pending {
		if loc.UserID != actor.UserID && loc.IsUnassigned() {
			continue
		}
		retry = append(retry, loc)
	}
	synced += e.pushAll(ctx, "retry", retry)
	if len(pending) > 0 {
		e.logger.Info("retried unsynced locations",
			zap.Int("pending", len(pending)),
			zap.Int("synced", synced),
		)
	}
	return synced, nil
}

func (e *Engine) mergeLocked(ctx context.Context) error {
	actor := e.Actor()
	if actor.IsAnonymous() {
		return models.ErrUnauthenticated
	}

	remoteLocs, err := e.backend.FetchLocations(ctx, actor.UserID)
	if err != nil {
		e.logger.Warn("login sync fetch failed",
			zap.String("op", "sync_on_login"),
			zap.String("user_id", actor.UserID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to fetch remote locations: %w", err)
	}
	localLocs, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	tombstones, err := e.store.PendingDeletes(ctx, actor.UserID)
	if err != nil {
		return err
	}
	deleted := make(map[string]bool, len(tombstones))
	for _, id := range tombstones {
		deleted[id] = true
	}

	plan := planMerge(localLocs, remoteLocs, deleted, actor.UserID, e.now())

	if len(plan.puts) > 0 || len(plan.deletes) > 0 {
		if err := e.store.Apply(ctx, plan.puts, plan.deletes); err != nil {
			return fmt.Errorf("failed to apply login merge: %w", err)
		}
	}

	e.mu.Lock()
	if e.actor == actor {
		e.mergedFor = actor.UserID
	}
	e.mu.Unlock()

	e.logger.Info("login sync merged",
		zap.String("user_id", actor.UserID),
		zap.Int("merged", plan.merged),
		zap.Int("promoted", plan.promoted),
		zap.Int("cached", plan.cached),
	)

	e.pushAll(ctx, "sync_on_login", plan.uploads)
	return nil
}

type mergePlan struct {
	puts    []models.Location
	deletes []string
	uploads []models.Location

	merged, promoted, cached int
}

// planMerge is the pure part of the login merge. Remote records whose ids
// were deleted locally are treated as already gone.
func planMerge(local, remoteLocs []models.Location, deleted map[string]bool, userID string, now time.Time) mergePlan {
	if len(deleted) > 0 {
		live := make([]models.Location, 0, len(remoteLocs))
		for _, r := range remoteLocs {
			if !deleted[r.ID] {
				live = append(live, r)
			}
		}
		remoteLocs = live
	}

	byFingerprint := make(map[string]models.Location, len(remoteLocs))
	for _, r := range remoteLocs {
		if _, ok := byFingerprint[r.Fingerprint]; !ok && r.Fingerprint != "" {
			byFingerprint[r.Fingerprint] = r
		}
	}
	localIDs := make(map[string]bool, len(local))
	for _, l := range local {
		localIDs[l.ID] = true
	}

	var plan mergePlan
	order := []string{}
	puts := map[string]models.Location{}
	put := func(loc models.Location) {
		if _, ok := puts[loc.ID]; !ok {
			order = append(order, loc.ID)
		}
		puts[loc.ID] = loc
	}

	for _, l := range local {
		if l.UserID != "" {
			continue
		}
		fp := l.Fingerprint
		if fp == "" {
			fp = fingerprint.Compute(l.Name, l.Latitude, l.Longitude)
		}

		if r, ok := byFingerprint[fp]; ok {
			merged := r.Clone()
			merged.IsSkipped = l.IsSkipped
			merged.StayDuration = l.StayDuration
			merged.ScheduledDate = nil
			if l.ScheduledDate != nil {
				d := *l.ScheduledDate
				merged.ScheduledDate = &d
			}
			merged.Source = models.SourceRemote
			merged.IsSynced = false
			merged.LastSyncedAt = nil
			merged.ClearTravel()
			if l.ID != merged.ID {
				plan.deletes = append(plan.deletes, l.ID)
			}
			put(merged)
			plan.merged++
			continue
		}

		promoted := l.Clone()
		promoted.UserID = userID
		promoted.Fingerprint = fp
		promoted.Source = models.SourceRemote
		promoted.IsSynced = false
		put(promoted)
		plan.promoted++
	}

	for _, r := range remoteLocs {
		if localIDs[r.ID] {
			continue
		}
		if _, ok := puts[r.ID]; ok {
			continue
		}
		cached := r.Clone()
		cached.Source = models.SourceRemote
		cached.IsSynced = true
		t := now
		cached.LastSyncedAt = &t
		cached.ClearTravel()
		put(cached)
		plan.cached++
	}

	for _, id := range order {
		loc := puts[id]
		plan.puts = append(plan.puts, loc)
		if !loc.IsSynced {
			plan.uploads = append(plan.uploads, loc)
		}
	}
	return plan
}

// flushDeletesLocked retries the actor's pending remote deletes and returns
// how many went through
func (e *Engine) flushDeletesLocked(ctx context.Context, actor auth.Actor) int {
	ids, err := e.store.PendingDeletes(ctx, actor.UserID)
	if err != nil {
		e.logger.Error("failed to list pending deletes", zap.String("user_id", actor.UserID), zap.Error(err))
		return 0
	}
	done := 0
	for _, id := range ids {
		if e.deleteRemote(ctx, "retry_delete", id) {
			done++
		}
	}
	return done
}

// deleteRemote deletes id on the backend and drops its tombstone on success
func (e *Engine) deleteRemote(ctx context.Context, op, id string) bool {
	if err := e.backend.DeleteLocation(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
		e.logger.Warn("remote delete failed, will retry",
			zap.String("op", op),
			zap.String("location_id", id),
			zap.Error(err),
		)
		return false
	}
	if err := e.store.ClearPendingDelete(ctx, id); err != nil {
		e.logger.Error("failed to clear pending delete",
			zap.String("op", op),
			zap.String("location_id", id),
			zap.Error(err),
		)
		return false
	}
	return true
}

// push uploads loc and marks it synced locally on success
func (e *Engine) push(ctx context.Context, op string, loc *models.Location) bool {
	if !e.upload(ctx, op, loc) {
		return false
	}
	return e.markSynced(ctx, op, *loc)
}

// pushAll uploads locs and marks the successful ones synced in one write
func (e *Engine) pushAll(ctx context.Context, op string, locs []models.Location) int {
	uploaded := make([]models.Location, 0, len(locs))
	for i := range locs {
		if e.upload(ctx, op, &locs[i]) {
			uploaded = append(uploaded, locs[i])
		}
	}
	if len(uploaded) == 0 || !e.markSynced(ctx, op, uploaded...) {
		return 0
	}
	return len(uploaded)
}

// upload sends loc to the backend and stamps it synced on success
func (e *Engine) upload(ctx context.Context, op string, loc *models.Location) bool {
	if err := e.backend.UpsertLocation(ctx, *loc); err != nil {
		e.logger.Warn("remote push failed, will retry",
			zap.String("op", op),
			zap.String("location_id", loc.ID),
			zap.Error(err),
		)
		return false
	}
	now := e.now()
	loc.IsSynced = true
	loc.LastSyncedAt = &now
	return true
}

func (e *Engine) markSynced(ctx context.Context, op string, locs ...models.Location) bool {
	if err := e.store.PutMany(ctx, locs); err != nil {
		e.logger.Error("failed to mark locations synced",
			zap.String("op", op),
			zap.Int("count", len(locs)),
			zap.Error(err),
		)
		return false
	}
	return true
}

func normalizeDate(loc *models.Location) error {
	if loc.ScheduledDate == nil {
		return nil
	}
	d, err := models.ParseDate(string(*loc.ScheduledDate))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidLocation, err)
	}
	loc.ScheduledDate = &d
	return nil
}
