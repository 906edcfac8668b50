package syncengine

import (
	"context"
	"time"

	"github.com/jengzang/trip-planner-go/internal/eventbus"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/remote"
	"go.uber.org/zap"
)

// Run applies the actor's remote location stream to the local store until
// ctx is done. Events are applied one at a time in arrival order. The stream
// is resubscribed whenever the actor changes.
func (e *Engine) Run(ctx context.Context) {
	for {
		actor := e.Actor()
		subCtx, cancel := context.WithCancel(ctx)

		var (
			events <-chan remote.LocationEvent
			retry  <-chan time.Time
		)
		if !actor.IsAnonymous() {
			ch, err := e.backend.SubscribeLocations(subCtx, actor.UserID)
			if err != nil {
				e.logger.Warn("failed to subscribe to location changes",
					zap.String("user_id", actor.UserID), zap.Error(err))
				retry = time.After(e.RetryDelay)
			} else {
				events = ch
			}
		}

		resubscribe := e.consume(ctx, events, retry)
		cancel()
		if !resubscribe {
			return
		}
	}
}

func (e *Engine) consume(ctx context.Context, events <-chan remote.LocationEvent, retry <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-e.actorChanged:
			return true
		case <-retry:
			return true
		case evt, ok := <-events:
			if !ok {
				events = nil
				retry = time.After(e.RetryDelay)
				continue
			}
			e.ApplyRemote(ctx, evt)
		}
	}
}

// ApplyRemote upserts or removes one remote change locally and announces it
func (e *Engine) ApplyRemote(ctx context.Context, evt remote.LocationEvent) {
	loc := evt.Location
	var op eventbus.LocationOp

	switch evt.Type {
	case remote.EventInsert, remote.EventUpdate:
		if e.pendingDelete(ctx, loc.ID) {
			return
		}
		op = eventbus.LocationUpserted
		now := e.now()
		loc.Source = models.SourceRemote
		loc.IsSynced = true
		loc.LastSyncedAt = &now
		loc.ClearTravel()
		if err := e.store.Put(ctx, loc); err != nil {
			e.logger.Error("failed to apply remote change",
				zap.String("op", string(evt.Type)),
				zap.String("location_id", loc.ID),
				zap.Error(err),
			)
			return
		}
	case remote.EventDelete:
		op = eventbus.LocationDeleted
		if err := e.store.ClearPendingDelete(ctx, loc.ID); err != nil {
			e.logger.Warn("failed to clear pending delete", zap.String("location_id", loc.ID), zap.Error(err))
		}
		if err := e.store.Delete(ctx, loc.ID); err != nil {
			e.logger.Error("failed to apply remote delete",
				zap.String("location_id", loc.ID),
				zap.Error(err),
			)
			return
		}
	default:
		e.logger.Warn("ignoring unknown remote event", zap.String("type", string(evt.Type)))
		return
	}

	if e.bus != nil {
		e.bus.Publish(eventbus.LocationChanged{Op: op, LocationID: loc.ID, TripID: loc.TripID})
	}
}

// pendingDelete reports whether the actor deleted id locally and the
// backend has not confirmed it yet
func (e *Engine) pendingDelete(ctx context.Context, id string) bool {
	ids, err := e.store.PendingDeletes(ctx, e.Actor().UserID)
	if err != nil {
		e.logger.Warn("failed to list pending deletes", zap.Error(err))
		return false
	}
	for _, pending := range ids {
		if pending == id {
			return true
		}
	}
	return false
}
