package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/stream"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "trip"

// Redis is a Backend stored in Redis. Rows are JSON strings indexed by
// per-user and per-trip sets; realtime changes go out on per-user pub/sub
// channels.
type Redis struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// DialRedis parses url, connects and verifies connectivity
func DialRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// NewRedis wraps rdb. Keys are namespaced under prefix ("trip" when empty).
func NewRedis(rdb *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, prefix: prefix, logger: logger}
}

func (r *Redis) locationKey(id string) string       { return r.prefix + ":loc:" + id }
func (r *Redis) tripKey(id string) string           { return r.prefix + ":trip:" + id }
func (r *Redis) userLocationsKey(uid string) string { return r.prefix + ":user:" + uid + ":locs" }
func (r *Redis) userTripsKey(uid string) string     { return r.prefix + ":user:" + uid + ":trips" }
func (r *Redis) tripLocationsKey(id string) string  { return r.prefix + ":trip:" + id + ":locs" }
func (r *Redis) locationChannel(uid string) string  { return r.prefix + ":events:" + uid + ":locations" }
func (r *Redis) permissionChannel(uid string) string {
	return r.prefix + ":events:" + uid + ":permissions"
}

// FetchLocations returns every location visible to userID
func (r *Redis) FetchLocations(ctx context.Context, userID string) ([]models.Location, error) {
	if userID == "" {
		return []models.Location{}, nil
	}
	keys := []string{r.userLocationsKey(userID)}
	tripIDs, err := r.rdb.SMembers(ctx, r.userTripsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list trips for %s: %w", userID, err)
	}
	for _, id := range tripIDs {
		keys = append(keys, r.tripLocationsKey(id))
	}

	ids, err := r.rdb.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list locations for %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return []models.Location{}, nil
	}

	locKeys := make([]string, len(ids))
	for i, id := range ids {
		locKeys[i] = r.locationKey(id)
	}
	vals, err := r.rdb.MGet(ctx, locKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}

	out := make([]models.Location, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var loc models.Location
		if err := json.Unmarshal([]byte(s), &loc); err != nil {
			r.logger.Warn("skipping undecodable location", zap.Error(err))
			continue
		}
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out, nil
}

// UpsertLocation stores loc, maintains the indexes and notifies its audience
func (r *Redis) UpsertLocation(ctx context.Context, loc models.Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	prev, err := r.getLocation(ctx, loc.ID)
	if err != nil {
		return err
	}
	rec := stored(loc)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != nil {
			if prev.UserID != "" && prev.UserID != rec.UserID {
				pipe.SRem(ctx, r.userLocationsKey(prev.UserID), rec.ID)
			}
			if !prev.IsUnassigned() && !rec.BelongsToTrip(*prev.TripID) {
				pipe.SRem(ctx, r.tripLocationsKey(*prev.TripID), rec.ID)
			}
		}
		pipe.Set(ctx, r.locationKey(rec.ID), data, 0)
		if rec.UserID != "" {
			pipe.SAdd(ctx, r.userLocationsKey(rec.UserID), rec.ID)
		}
		if !rec.IsUnassigned() {
			pipe.SAdd(ctx, r.tripLocationsKey(*rec.TripID), rec.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert location %s: %w", rec.ID, err)
	}

	evt := LocationEvent{Type: EventInsert, Location: rec}
	users := map[string]bool{}
	if prev != nil {
		evt.Type = EventUpdate
		for _, uid := range r.audience(ctx, *prev) {
			users[uid] = true
		}
	}
	for _, uid := range r.audience(ctx, rec) {
		users[uid] = true
	}
	r.publish(ctx, users, r.locationChannel, evt)
	return nil
}

// DeleteLocation removes a location. Missing ids are not an error.
func (r *Redis) DeleteLocation(ctx context.Context, id string) error {
	prev, err := r.getLocation(ctx, id)
	if err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	users := r.audience(ctx, *prev)

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.locationKey(id))
		if prev.UserID != "" {
			pipe.SRem(ctx, r.userLocationsKey(prev.UserID), id)
		}
		if !prev.IsUnassigned() {
			pipe.SRem(ctx, r.tripLocationsKey(*prev.TripID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete location %s: %w", id, err)
	}

	set := make(map[string]bool, len(users))
	for _, uid := range users {
		set[uid] = true
	}
	r.publish(ctx, set, r.locationChannel, LocationEvent{Type: EventDelete, Location: *prev})
	return nil
}

// SubscribeLocations streams changes visible to userID until ctx is done
func (r *Redis) SubscribeLocations(ctx context.Context, userID string) (<-chan LocationEvent, error) {
	return subscribe[LocationEvent](ctx, r, r.locationChannel(userID))
}

// FetchTrip returns the trip or models.ErrNotFound
func (r *Redis) FetchTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	val, err := r.rdb.Get(ctx, r.tripKey(tripID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trip %s: %w", tripID, err)
	}
	var trip models.Trip
	if err := json.Unmarshal([]byte(val), &trip); err != nil {
		return nil, fmt.Errorf("failed to decode trip %s: %w", tripID, err)
	}
	return &trip, nil
}

// FetchTrips returns trips userID owns or collaborates on
func (r *Redis) FetchTrips(ctx context.Context, userID string) ([]models.Trip, error) {
	ids, err := r.rdb.SMembers(ctx, r.userTripsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list trips for %s: %w", userID, err)
	}
	sort.Strings(ids)

	out := []models.Trip{}
	for _, id := range ids {
		trip, err := r.FetchTrip(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if trip.RoleOf(userID).CanView() {
			out = append(out, *trip)
		}
	}
	return out, nil
}

// UpsertTrip stores trip metadata and collaborators as given
func (r *Redis) UpsertTrip(ctx context.Context, trip models.Trip) error {
	if trip.ID == "" || trip.OwnerID == "" {
		return fmt.Errorf("trip id and owner are required")
	}
	prev, err := r.FetchTrip(ctx, trip.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	now := time.Now()
	if prev != nil {
		trip.CreatedAt = prev.CreatedAt
	} else if trip.CreatedAt.IsZero() {
		trip.CreatedAt = now
	}
	trip.UpdatedAt = now
	if trip.Status == "" {
		trip.Status = models.TripStatusPlanning
	}
	return r.saveTrip(ctx, trip, prev)
}

// SetCollaborator grants perm on tripID to userID and notifies them
func (r *Redis) SetCollaborator(ctx context.Context, tripID, userID string, perm models.Permission) error {
	if !perm.Valid() {
		return fmt.Errorf("invalid permission %q", perm)
	}
	return r.changeCollaborator(ctx, tripID, userID, &perm)
}

// RemoveCollaborator revokes userID's grant on tripID and notifies them
func (r *Redis) RemoveCollaborator(ctx context.Context, tripID, userID string) error {
	return r.changeCollaborator(ctx, tripID, userID, nil)
}

// SubscribePermissions streams grant changes that affect userID
func (r *Redis) SubscribePermissions(ctx context.Context, userID string) (<-chan PermissionEvent, error) {
	return subscribe[PermissionEvent](ctx, r, r.permissionChannel(userID))
}

func (r *Redis) changeCollaborator(ctx context.Context, tripID, userID string, perm *models.Permission) error {
	prev, err := r.FetchTrip(ctx, tripID)
	if err != nil {
		return err
	}
	if prev.OwnerID == userID {
		return fmt.Errorf("cannot change the owner's permission")
	}
	next := withCollaborator(*prev, userID, perm)
	next.UpdatedAt = time.Now()
	if err := r.saveTrip(ctx, next, prev); err != nil {
		return err
	}

	r.publish(ctx, map[string]bool{userID: true}, r.permissionChannel,
		PermissionEvent{TripID: tripID, UserID: userID, Permission: perm})
	return nil
}

func (r *Redis) saveTrip(ctx context.Context, trip models.Trip, prev *models.Trip) error {
	data, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("failed to encode trip: %w", err)
	}
	members := tripMembers(trip)
	current := make(map[string]bool, len(members))
	for _, uid := range members {
		current[uid] = true
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.tripKey(trip.ID), data, 0)
		for _, uid := range members {
			pipe.SAdd(ctx, r.userTripsKey(uid), trip.ID)
		}
		if prev != nil {
			for _, uid := range tripMembers(*prev) {
				if !current[uid] {
					pipe.SRem(ctx, r.userTripsKey(uid), trip.ID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save trip %s: %w", trip.ID, err)
	}
	return nil
}

func (r *Redis) getLocation(ctx context.Context, id string) (*models.Location, error) {
	val, err := r.rdb.Get(ctx, r.locationKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location %s: %w", id, err)
	}
	var loc models.Location
	if err := json.Unmarshal([]byte(val), &loc); err != nil {
		return nil, fmt.Errorf("failed to decode location %s: %w", id, err)
	}
	return &loc, nil
}

func (r *Redis) audience(ctx context.Context, loc models.Location) []string {
	if loc.IsUnassigned() {
		return audience(loc, nil)
	}
	trip, err := r.FetchTrip(ctx, *loc.TripID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.logger.Warn("failed to resolve trip audience", zap.String("trip_id", *loc.TripID), zap.Error(err))
		}
		return audience(loc, nil)
	}
	return audience(loc, trip)
}

// publish fans msg out to each user's channel. Failures are logged: the row
// is already committed and subscribers resync on their next fetch.
func (r *Redis) publish(ctx context.Context, users map[string]bool, channel func(string) string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to encode event", zap.Error(err))
		return
	}
	for uid := range users {
		if err := r.rdb.Publish(ctx, channel(uid), data).Err(); err != nil {
			r.logger.Warn("failed to publish event", zap.String("user_id", uid), zap.Error(err))
		}
	}
}

func subscribe[T any](ctx context.Context, r *Redis, channel string) (<-chan T, error) {
	pubsub := r.rdb.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so no later publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	pump := stream.NewPump[T](ctx)
	go func() {
		defer pubsub.Close()
		defer pump.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-pump.Stopped():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt T
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					r.logger.Warn("dropping undecodable event", zap.String("channel", channel), zap.Error(err))
					continue
				}
				pump.Send(evt)
			}
		}
	}()
	return pump.C(), nil
}
