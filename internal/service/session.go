// Package service holds the trip session: the actor-local state (active
// trip, selected day, start point) and the entry points that mutate it.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/internal/eventbus"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/permission"
	"github.com/jengzang/trip-planner-go/internal/pipeline"
	"github.com/jengzang/trip-planner-go/internal/remote"
	"github.com/jengzang/trip-planner-go/internal/repository"
	"github.com/jengzang/trip-planner-go/internal/route"
	"github.com/jengzang/trip-planner-go/internal/syncengine"
	"go.uber.org/zap"
)

// ReasonDeactivated is the TripDeactivated reason for a user-initiated
// deactivation
const ReasonDeactivated = "deactivated"

// Dependencies are the collaborators a session is built from
type Dependencies struct {
	Locations  *repository.LocationRepository
	Trips      *repository.TripRepository
	State      *repository.StateRepository
	Backend    remote.Backend
	Directions route.Directions
	Bus        *eventbus.Bus
}

// SessionConfig tunes a session
type SessionConfig struct {
	ProximityThreshold float64
	RouteDebounce      time.Duration
	DirectionsTimeout  time.Duration
	Timezone           *time.Location

	// RetryDelay is the resubscribe delay of the realtime streams
	RetryDelay time.Duration
}

// TripSession owns one device's view of the world for a single actor
type TripSession struct {
	locations *repository.LocationRepository
	trips     *repository.TripRepository
	state     *repository.StateRepository
	backend   remote.Backend
	bus       *eventbus.Bus

	engine   *syncengine.Engine
	resolver *permission.Resolver
	pipeline *pipeline.Pipeline
	planner  *route.Planner

	logger *zap.Logger
	tz     *time.Location
	now    func() time.Time

	mu         sync.Mutex
	actor      auth.Actor
	activeTrip *models.Trip
	date       models.Date
	start      *models.LatLng
	startID    string
	threshold  float64

	// manualOrder survives until the routable set changes
	manualOrder  []string
	requested    routeKey
	hasRequested bool

	routeState route.State
	route      *models.RouteResult
}

// routeKey is everything that decides whether a new route is needed
type routeKey struct {
	waypoints uint64
	date      models.Date
	tripID    string
	start     models.LatLng
	hasStart  bool
	startID   string
	threshold float64
}

// NewTripSession builds a session and restores the persisted actor, active
// trip and selected date. Call Run to start it.
func NewTripSession(ctx context.Context, deps Dependencies, cfg SessionConfig, logger *zap.Logger) (*TripSession, error) {
	if deps.Locations == nil || deps.Trips == nil || deps.State == nil || deps.Backend == nil || deps.Directions == nil {
		return nil, errors.New("trip session requires repositories, a backend and a directions provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.New()
	}
	tz := cfg.Timezone
	if tz == nil {
		tz = time.Local
	}
	threshold := cfg.ProximityThreshold
	if threshold <= 0 {
		threshold = route.DefaultProximityThreshold
	}

	s := &TripSession{
		locations: deps.Locations,
		trips:     deps.Trips,
		state:     deps.State,
		backend:   deps.Backend,
		bus:       deps.Bus,
		engine:    syncengine.New(deps.Locations, deps.Backend, deps.Bus, logger),
		resolver:  permission.NewResolver(deps.Backend, deps.Bus, logger),
		planner: route.NewPlanner(deps.Directions, route.PlannerConfig{
			Debounce: cfg.RouteDebounce,
			Timeout:  cfg.DirectionsTimeout,
		}, logger),
		logger:    logger.Named("session"),
		tz:        tz,
		now:       time.Now,
		threshold: threshold,
	}
	if cfg.RetryDelay > 0 {
		s.engine.RetryDelay = cfg.RetryDelay
		s.resolver.RetryDelay = cfg.RetryDelay
	}

	if err := s.restore(ctx); err != nil {
		s.planner.Close()
		return nil, err
	}

	p, err := pipeline.New(s.date, tz, logger)
	if err != nil {
		s.planner.Close()
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	s.pipeline = p
	p.SetActor(s.actor)
	if s.activeTrip != nil {
		p.SetActiveTrip(s.activeTrip, models.AccessFor(s.activeTrip.RoleOf(s.actor.UserID)))
	}
	return s, nil
}

func (s *TripSession) restore(ctx context.Context) error {
	s.date = s.today()
	if v, ok, err := s.state.Get(ctx, repository.KeySelectedDate); err != nil {
		return fmt.Errorf("failed to restore selected date: %w", err)
	} else if ok {
		if d, err := models.ParseDate(v); err == nil {
			s.date = d
		}
	}

	userID, ok, err := s.state.Get(ctx, repository.KeyActorUserID)
	if err != nil {
		return fmt.Errorf("failed to restore actor: %w", err)
	}
	if !ok || userID == "" {
		return nil
	}
	s.actor = auth.Authenticated(userID)
	s.engine.SetActor(s.actor)
	s.resolver.SetActor(s.actor)

	tripID, ok, err := s.state.Get(ctx, repository.KeyActiveTripID)
	if err != nil {
		return fmt.Errorf("failed to restore active trip: %w", err)
	}
	if !ok || tripID == "" {
		return nil
	}
	trip, err := s.trips.GetTripByID(ctx, tripID)
	if err != nil {
		return fmt.Errorf("failed to restore active trip: %w", err)
	}
	if trip == nil {
		return nil
	}
	s.activeTrip = trip
	s.resolver.SetActiveTrip(trip.ID)
	return nil
}

// Run wires the components together and runs them until ctx is done. A
// session runs once.
func (s *TripSession) Run(ctx context.Context) error {
	snapshots, err := s.locations.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch locations: %w", err)
	}
	views := s.pipeline.Subscribe(ctx)
	routes := s.planner.Subscribe(ctx)
	events := s.bus.Subscribe(ctx, eventbus.KindTripDeactivated, eventbus.KindPermissionChanged)
	defer events.Close()
	defer s.planner.Close()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){s.pipeline.Run, s.engine.Run, s.resolver.Run} {
		run := run
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}
	defer wg.Wait()

	s.logger.Info("session started",
		zap.String("user_id", s.Actor().UserID),
		zap.String("date", string(s.SelectedDate())),
	)

	eventsC := events.C()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			s.pipeline.SetLocations(snap)
		case v, ok := <-views:
			if !ok {
				views = nil
				continue
			}
			s.onView(v)
		case u, ok := <-routes:
			if !ok {
				routes = nil
				continue
			}
			s.onRoute(u)
		case evt, ok := <-eventsC:
			if !ok {
				eventsC = nil
				continue
			}
			s.onEvent(ctx, evt)
		}
	}
}

func (s *TripSession) onView(v pipeline.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestRouteLocked(v, false, nil)
}

// requestRouteLocked asks the planner for a route when the routable set or
// the start changed since the last request
func (s *TripSession) requestRouteLocked(v pipeline.View, force bool, manual []string) {
	key := routeKey{
		waypoints: v.WaypointsVersion,
		date:      v.Date,
		startID:   s.startID,
		threshold: s.threshold,
	}
	if v.ActiveTrip != nil {
		key.tripID = v.ActiveTrip.ID
	}
	if s.start != nil {
		key.start, key.hasStart = *s.start, true
	}
	if !force && s.hasRequested && key == s.requested {
		return
	}

	setChanged := !s.hasRequested || key.waypoints != s.requested.waypoints ||
		key.date != s.requested.date || key.tripID != s.requested.tripID
	s.requested, s.hasRequested = key, true
	if setChanged {
		s.manualOrder = nil
		s.pipeline.SetOrdering(nil)
	}
	if manual != nil {
		s.manualOrder = manual
	}

	if len(v.Waypoints) == 0 {
		s.planner.Clear()
		return
	}

	in := route.Input{
		Date:            v.Date,
		StartLocationID: s.startID,
		Waypoints:       v.Waypoints,
		Threshold:       s.threshold,
	}
	if v.ActiveTrip != nil {
		in.TripID = models.StringPtr(v.ActiveTrip.ID)
	}
	if s.start != nil {
		start := *s.start
		in.Start = &start
	}
	if ordered, ok := applyOrder(v.Waypoints, s.manualOrder); ok {
		in.Waypoints = ordered
		in.PreserveOrder = true
	}
	s.planner.Request(in)
}

func (s *TripSession) onRoute(u route.Update) {
	s.mu.Lock()
	s.routeState, s.route = u.State, u.Result
	s.mu.Unlock()

	switch u.State {
	case route.StateIdle:
		s.pipeline.SetOrdering(nil)
	case route.StateReady, route.StateFailed:
		s.pipeline.SetOrdering(u.Result)
		s.bus.Publish(eventbus.RouteUpdated{Result: u.Result, Failed: u.State == route.StateFailed})
	}
}

func (s *TripSession) onEvent(ctx context.Context, evt eventbus.Event) {
	switch e := evt.(type) {
	case eventbus.TripDeactivated:
		if e.Reason != permission.ReasonAccessRevoked {
			return
		}
		s.mu.Lock()
		if s.activeTrip == nil || s.activeTrip.ID != e.TripID {
			s.mu.Unlock()
			return
		}
		s.clearActiveLocked()
		s.mu.Unlock()

		s.forget(ctx, repository.KeyActiveTripID)
		s.logger.Info("active trip deactivated", zap.String("trip_id", e.TripID), zap.String("reason", e.Reason))

	case eventbus.PermissionChanged:
		s.mu.Lock()
		active := s.activeTrip != nil && s.activeTrip.ID == e.TripID
		s.mu.Unlock()
		if active {
			s.pipeline.SetAccess(s.resolver.Flags(e.TripID))
		}
	}
}

func (s *TripSession) clearActiveLocked() {
	s.activeTrip = nil
	s.startID = ""
	s.pipeline.SetActiveTrip(nil, models.Access{})
}

// Actor returns the signed-in actor
func (s *TripSession) Actor() auth.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actor
}

// ActiveTrip returns a copy of the active trip, or nil
func (s *TripSession) ActiveTrip() *models.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTrip == nil {
		return nil
	}
	t := s.activeTrip.Clone()
	return &t
}

// SelectedDate returns the day being viewed
func (s *TripSession) SelectedDate() models.Date {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.date
}

// View returns the latest derived view
func (s *TripSession) View() pipeline.View {
	return s.pipeline.Current()
}

// Route returns the planner state and last result seen by the session
func (s *TripSession) Route() (route.State, *models.RouteResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routeState, s.route
}

// Flags returns the display gating for the active trip
func (s *TripSession) Flags() models.Access {
	trip := s.ActiveTrip()
	if trip == nil {
		return models.Access{}
	}
	return s.resolver.Flags(trip.ID)
}

// Bus returns the session's event bus
func (s *TripSession) Bus() *eventbus.Bus {
	return s.bus
}

// Login switches to an authenticated actor, merges local records into the
// account and refreshes the trip cache. A merge that fails for lack of
// connectivity is retried by RetrySync.
func (s *TripSession) Login(ctx context.Context, actor auth.Actor) error {
	if actor.IsAnonymous() {
		return models.ErrUnauthenticated
	}

	s.mu.Lock()
	switched := s.actor != actor
	if switched && s.activeTrip != nil {
		s.clearActiveLocked()
		s.resolver.SetActiveTrip("")
	}
	s.actor = actor
	s.mu.Unlock()

	s.engine.SetActor(actor)
	s.resolver.SetActor(actor)
	s.pipeline.SetActor(actor)
	s.persist(ctx, repository.KeyActorUserID, actor.UserID)
	if switched {
		s.forget(ctx, repository.KeyActiveTripID)
	}

	if err := s.engine.SyncOnLogin(ctx); err != nil {
		s.logger.Warn("merge on login deferred", zap.String("user_id", actor.UserID), zap.Error(err))
	}
	if _, err := s.ListTrips(ctx); err != nil {
		s.logger.Warn("failed to refresh trips", zap.String("user_id", actor.UserID), zap.Error(err))
	}
	s.logger.Info("logged in", zap.String("user_id", actor.UserID))
	return nil
}

// Logout returns to the anonymous actor. Records stay in the store.
func (s *TripSession) Logout(ctx context.Context) {
	s.mu.Lock()
	prev := s.actor
	if s.activeTrip != nil {
		s.clearActiveLocked()
	}
	s.actor = auth.Anonymous
	s.mu.Unlock()

	s.resolver.SetActiveTrip("")
	s.engine.SetActor(auth.Anonymous)
	s.resolver.SetActor(auth.Anonymous)
	s.pipeline.SetActor(auth.Anonymous)
	s.forget(ctx, repository.KeyActorUserID)
	s.forget(ctx, repository.KeyActiveTripID)
	s.logger.Info("logged out", zap.String("user_id", prev.UserID))
}

// RetrySync pushes every unsynced record, merging first when needed
func (s *TripSession) RetrySync(ctx context.Context) (int, error) {
	return s.engine.SyncUnsyncedLocations(ctx)
}

// SelectDate switches the viewed day. Legs of the previous day are dropped.
func (s *TripSession) SelectDate(ctx context.Context, date models.Date) error {
	d, err := models.ParseDate(string(date))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidDate, err)
	}
	s.mu.Lock()
	s.date = d
	s.mu.Unlock()

	s.planner.Clear()
	s.pipeline.SetDate(d)
	s.persist(ctx, repository.KeySelectedDate, string(d))
	return nil
}

// SetStartPoint sets the live position and/or a designated start location.
// A nil position with an empty id falls back to the first waypoint.
func (s *TripSession) SetStartPoint(position *models.LatLng, locationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position != nil {
		p := *position
		s.start = &p
	} else {
		s.start = nil
	}
	s.startID = locationID
	s.requestRouteLocked(s.pipeline.Current(), true, s.manualOrder)
}

// SetProximityThreshold changes the clustering distance in meters
func (s *TripSession) SetProximityThreshold(meters float64) error {
	if meters <= 0 {
		return fmt.Errorf("proximity threshold must be positive, got %v", meters)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = meters
	s.requestRouteLocked(s.pipeline.Current(), false, s.manualOrder)
	return nil
}

func (s *TripSession) today() models.Date {
	return models.DateOf(s.now().In(s.tz))
}

func (s *TripSession) persist(ctx context.Context, key, value string) {
	if err := s.state.Set(ctx, key, value); err != nil {
		s.logger.Warn("failed to persist session state", zap.String("key", key), zap.Error(err))
	}
}

func (s *TripSession) forget(ctx context.Context, key string) {
	if err := s.state.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to clear session state", zap.String("key", key), zap.Error(err))
	}
}

// applyOrder reorders waypoints by ids. It fails unless ids is a
// permutation of the waypoint ids.
func applyOrder(waypoints []models.Location, ids []string) ([]models.Location, bool) {
	if len(ids) == 0 || len(ids) != len(waypoints) {
		return nil, false
	}
	byID := make(map[string]models.Location, len(waypoints))
	for _, w := range waypoints {
		byID[w.ID] = w
	}
	out := make([]models.Location, 0, len(ids))
	for _, id := range ids {
		w, ok := byID[id]
		if !ok {
			return nil, false
		}
		delete(byID, id)
		out = append(out, w)
	}
	return out, true
}
