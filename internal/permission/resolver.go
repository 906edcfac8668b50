// Package permission answers "may this actor view or modify" questions
// against the remote trip record and reacts to live grant changes.
package permission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/internal/eventbus"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/remote"
	"go.uber.org/zap"
)

// ReasonAccessRevoked is the TripDeactivated reason used when the actor was
// removed from the active trip
const ReasonAccessRevoked = "access_revoked"

// Resolver checks trip access. Authorization always reads the trip fresh
// from the backend; the cached flags are for display only.
type Resolver struct {
	// RetryDelay is how long Run waits before resubscribing after a failure
	RetryDelay time.Duration

	backend remote.Backend
	bus     *eventbus.Bus
	logger  *zap.Logger

	mu           sync.Mutex
	actor        auth.Actor
	activeTripID string
	flags        map[string]models.Access
	actorChanged chan struct{}
}

// NewResolver creates a resolver for the anonymous actor
func NewResolver(backend remote.Backend, bus *eventbus.Bus, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		RetryDelay:   5 * time.Second,
		backend:      backend,
		bus:          bus,
		logger:       logger.Named("permission"),
		flags:        make(map[string]models.Access),
		actorChanged: make(chan struct{}, 1),
	}
}

// SetActor switches the actor. Cached flags belong to the previous actor and
// are dropped.
func (r *Resolver) SetActor(actor auth.Actor) {
	r.mu.Lock()
	changed := r.actor != actor
	r.actor = actor
	if changed {
		r.flags = make(map[string]models.Access)
	}
	r.mu.Unlock()

	if changed {
		select {
		case r.actorChanged <- struct{}{}:
		default:
		}
	}
}

// Actor returns the current actor
func (r *Resolver) Actor() auth.Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actor
}

// SetActiveTrip records which trip a removal event must deactivate
func (r *Resolver) SetActiveTrip(tripID string) {
	r.mu.Lock()
	r.activeTripID = tripID
	r.mu.Unlock()
}

// Access fetches the trip and returns the actor's gating flags. Any fetch
// failure denies.
func (r *Resolver) Access(ctx context.Context, tripID string) models.Access {
	access, err := r.fetchAccess(ctx, tripID)
	if err != nil {
		r.logger.Warn("permission check failed, denying",
			zap.String("trip_id", tripID),
			zap.String("user_id", r.Actor().UserID),
			zap.Error(err),
		)
		return models.Access{}
	}
	return access
}

func (r *Resolver) fetchAccess(ctx context.Context, tripID string) (models.Access, error) {
	actor := r.Actor()
	if actor.IsAnonymous() || tripID == "" {
		return models.Access{}, nil
	}

	trip, err := r.backend.FetchTrip(ctx, tripID)
	if err != nil {
		return models.Access{}, err
	}

	access := models.AccessFor(trip.RoleOf(actor.UserID))
	r.mu.Lock()
	if r.actor == actor {
		r.flags[tripID] = access
	}
	r.mu.Unlock()
	return access, nil
}

// CanModify reports whether the actor owns or has write access to tripID
func (r *Resolver) CanModify(ctx context.Context, tripID string) bool {
	return r.Access(ctx, tripID).CanModify
}

// CanView reports whether the actor owns or collaborates on tripID
func (r *Resolver) CanView(ctx context.Context, tripID string) bool {
	return r.Access(ctx, tripID).CanView
}

// CanModifyLocation applies trip access to trip locations and ownership to
// unassigned ones
func (r *Resolver) CanModifyLocation(ctx context.Context, loc models.Location) bool {
	if !loc.IsUnassigned() {
		return r.CanModify(ctx, *loc.TripID)
	}
	actor := r.Actor()
	if actor.IsAnonymous() {
		return loc.UserID == ""
	}
	return loc.UserID == actor.UserID
}

// Flags returns the last known gating value for tripID. It is never used
// for authorization.
func (r *Resolver) Flags(tripID string) models.Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags[tripID]
}

// HandleEvent applies a live grant change for the current actor. A downgrade
// only changes gating; a removal from the active trip also deactivates it.
func (r *Resolver) HandleEvent(evt remote.PermissionEvent) {
	r.mu.Lock()
	if r.actor.IsAnonymous() || evt.UserID != r.actor.UserID {
		r.mu.Unlock()
		return
	}

	role := models.RoleNone
	if evt.Permission != nil {
		switch *evt.Permission {
		case models.PermissionWrite:
			role = models.RoleWrite
		case models.PermissionRead:
			role = models.RoleRead
		}
	}
	r.flags[evt.TripID] = models.AccessFor(role)

	deactivate := role == models.RoleNone && evt.TripID == r.activeTripID
	if deactivate {
		r.activeTripID = ""
	}
	r.mu.Unlock()

	r.logger.Info("permission changed",
		zap.String("trip_id", evt.TripID),
		zap.String("role", role.String()),
		zap.Bool("deactivated", deactivate),
	)

	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.PermissionChanged{TripID: evt.TripID, UserID: evt.UserID, Permission: evt.Permission})
	if deactivate {
		r.bus.Publish(eventbus.TripDeactivated{TripID: evt.TripID, Reason: ReasonAccessRevoked})
	}
}

// Run consumes the remote permission stream for the current actor until ctx
// is done, resubscribing whenever the actor changes.
func (r *Resolver) Run(ctx context.Context) {
	for {
		actor := r.Actor()
		subCtx, cancel := context.WithCancel(ctx)

		var (
			events <-chan remote.PermissionEvent
			retry  <-chan time.Time
		)
		if !actor.IsAnonymous() {
			ch, err := r.backend.SubscribePermissions(subCtx, actor.UserID)
			if err != nil {
				r.logger.Warn("failed to subscribe to permission changes",
					zap.String("user_id", actor.UserID), zap.Error(err))
				retry = time.After(r.RetryDelay)
			} else {
				events = ch
				// Changes made while unsubscribed were never delivered.
				r.reconcileActive(subCtx, actor)
			}
		}

		resubscribe := r.consume(ctx, events, retry)
		cancel()
		if !resubscribe {
			return
		}
	}
}

func (r *Resolver) consume(ctx context.Context, events <-chan remote.PermissionEvent, retry <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-r.actorChanged:
			return true
		case <-retry:
			return true
		case evt, ok := <-events:
			if !ok {
				events = nil
				retry = time.After(r.RetryDelay)
				continue
			}
			r.HandleEvent(evt)
		}
	}
}

// reconcileActive re-reads the active trip and replays the result as if it
// had arrived on the stream. A failed fetch leaves the last known state.
func (r *Resolver) reconcileActive(ctx context.Context, actor auth.Actor) {
	r.mu.Lock()
	tripID := r.activeTripID
	r.mu.Unlock()
	if tripID == "" {
		return
	}

	access, err := r.fetchAccess(ctx, tripID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		r.logger.Warn("failed to recheck active trip",
			zap.String("trip_id", tripID),
			zap.String("user_id", actor.UserID),
			zap.Error(err),
		)
		return
	}

	var perm *models.Permission
	switch {
	case access.CanModify:
		p := models.PermissionWrite
		perm = &p
	case access.CanView:
		p := models.PermissionRead
		perm = &p
	}
	r.HandleEvent(remote.PermissionEvent{TripID: tripID, UserID: actor.UserID, Permission: perm})
}
