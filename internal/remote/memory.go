package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/stream"
)

// Memory is an in-process Backend. It backs single-node deployments without
// Redis and the package tests of every remote consumer.
type Memory struct {
	mu        sync.Mutex
	locations map[string]models.Location
	trips     map[string]models.Trip
	failure   error

	locationSubs   map[*stream.Pump[LocationEvent]]string
	permissionSubs map[*stream.Pump[PermissionEvent]]string

	tripFetches int
}

// NewMemory creates an empty in-process backend
func NewMemory() *Memory {
	return &Memory{
		locations:      make(map[string]models.Location),
		trips:          make(map[string]models.Trip),
		locationSubs:   make(map[*stream.Pump[LocationEvent]]string),
		permissionSubs: make(map[*stream.Pump[PermissionEvent]]string),
	}
}

// SetFailure makes every subsequent call fail with err until cleared with nil
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	m.failure = err
	m.mu.Unlock()
}

// TripFetches returns how many times FetchTrip has been called
func (m *Memory) TripFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripFetches
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failure != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, m.failure)
	}
	return nil
}

// FetchLocations returns every location visible to userID
func (m *Memory) FetchLocations(ctx context.Context, userID string) ([]models.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	out := []models.Location{}
	for _, loc := range m.locations {
		if m.visibleLocked(loc, userID) {
			out = append(out, loc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out, nil
}

// UpsertLocation stores loc and notifies its audience
func (m *Memory) UpsertLocation(ctx context.Context, loc models.Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}

	evtType := EventInsert
	users := map[string]bool{}
	if prev, ok := m.locations[loc.ID]; ok {
		evtType = EventUpdate
		for _, uid := range m.audienceLocked(prev) {
			users[uid] = true
		}
	}
	rec := stored(loc)
	m.locations[loc.ID] = rec
	for _, uid := range m.audienceLocked(rec) {
		users[uid] = true
	}
	m.publishLocationLocked(users, LocationEvent{Type: evtType, Location: rec})
	return nil
}

// DeleteLocation removes a location. Missing ids are not an error.
func (m *Memory) DeleteLocation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}

	prev, ok := m.locations[id]
	if !ok {
		return nil
	}
	delete(m.locations, id)
	users := map[string]bool{}
	for _, uid := range m.audienceLocked(prev) {
		users[uid] = true
	}
	m.publishLocationLocked(users, LocationEvent{Type: EventDelete, Location: prev})
	return nil
}

// SubscribeLocations streams changes visible to userID until ctx is done
func (m *Memory) SubscribeLocations(ctx context.Context, userID string) (<-chan LocationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	pump := stream.NewPump[LocationEvent](ctx)
	m.locationSubs[pump] = userID
	go func() {
		<-pump.Stopped()
		m.mu.Lock()
		delete(m.locationSubs, pump)
		m.mu.Unlock()
	}()
	return pump.C(), nil
}

// FetchTrip returns the trip or models.ErrNotFound
func (m *Memory) FetchTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tripFetches++
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	trip, ok := m.trips[tripID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := trip.Clone()
	return &c, nil
}

// FetchTrips returns trips userID owns or collaborates on
func (m *Memory) FetchTrips(ctx context.Context, userID string) ([]models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	out := []models.Trip{}
	for _, trip := range m.trips {
		if trip.RoleOf(userID).CanView() {
			out = append(out, trip.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertTrip stores trip metadata and collaborators as given
func (m *Memory) UpsertTrip(ctx context.Context, trip models.Trip) error {
	if trip.ID == "" || trip.OwnerID == "" {
		return fmt.Errorf("trip id and owner are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}

	now := time.Now()
	if prev, ok := m.trips[trip.ID]; ok {
		trip.CreatedAt = prev.CreatedAt
	} else if trip.CreatedAt.IsZero() {
		trip.CreatedAt = now
	}
	trip.UpdatedAt = now
	if trip.Status == "" {
		trip.Status = models.TripStatusPlanning
	}
	m.trips[trip.ID] = trip.Clone()
	return nil
}

// SetCollaborator grants perm on tripID to userID and notifies them
func (m *Memory) SetCollaborator(ctx context.Context, tripID, userID string, perm models.Permission) error {
	if !perm.Valid() {
		return fmt.Errorf("invalid permission %q", perm)
	}
	return m.changeCollaborator(ctx, tripID, userID, &perm)
}

// RemoveCollaborator revokes userID's grant on tripID and notifies them
func (m *Memory) RemoveCollaborator(ctx context.Context, tripID, userID string) error {
	return m.changeCollaborator(ctx, tripID, userID, nil)
}

func (m *Memory) changeCollaborator(ctx context.Context, tripID, userID string, perm *models.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}

	trip, ok := m.trips[tripID]
	if !ok {
		return models.ErrNotFound
	}
	if trip.OwnerID == userID {
		return fmt.Errorf("cannot change the owner's permission")
	}
	trip = withCollaborator(trip, userID, perm)
	trip.UpdatedAt = time.Now()
	m.trips[tripID] = trip

	evt := PermissionEvent{TripID: tripID, UserID: userID, Permission: perm}
	for pump, uid := range m.permissionSubs {
		if uid == userID {
			pump.Send(evt)
		}
	}
	return nil
}

// SubscribePermissions streams grant changes that affect userID
func (m *Memory) SubscribePermissions(ctx context.Context, userID string) (<-chan PermissionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	pump := stream.NewPump[PermissionEvent](ctx)
	m.permissionSubs[pump] = userID
	go func() {
		<-pump.Stopped()
		m.mu.Lock()
		delete(m.permissionSubs, pump)
		m.mu.Unlock()
	}()
	return pump.C(), nil
}

func (m *Memory) visibleLocked(loc models.Location, userID string) bool {
	if userID == "" {
		return false
	}
	if loc.UserID == userID {
		return true
	}
	if loc.IsUnassigned() {
		return false
	}
	trip, ok := m.trips[*loc.TripID]
	return ok && trip.RoleOf(userID).CanView()
}

func (m *Memory) audienceLocked(loc models.Location) []string {
	if loc.IsUnassigned() {
		return audience(loc, nil)
	}
	trip, ok := m.trips[*loc.TripID]
	if !ok {
		return audience(loc, nil)
	}
	return audience(loc, &trip)
}

func (m *Memory) publishLocationLocked(users map[string]bool, evt LocationEvent) {
	for pump, uid := range m.locationSubs {
		if users[uid] {
			pump.Send(LocationEvent{Type: evt.Type, Location: evt.Location.Clone()})
		}
	}
}
