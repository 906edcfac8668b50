// Package pipeline derives the locations visible right now from the local
// snapshot, the active trip, the actor's access and the selected day.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/stream"
	"go.uber.org/zap"
)

// Inputs
const (
	InputLocations NodeID = "locations"
	InputTrip      NodeID = "trip"
	InputActor     NodeID = "actor"
	InputAccess    NodeID = "access"
	InputDate      NodeID = "date"
	InputOrdering  NodeID = "ordering"
)

// Derived nodes
const (
	NodeScoped    NodeID = "scoped"
	NodeDated     NodeID = "dated"
	NodeVisible   NodeID = "visible"
	NodeWaypoints NodeID = "waypoints"
)

// View is one immutable output of the pipeline. Slices must not be modified.
type View struct {
	Version    uint64
	Date       models.Date
	ActiveTrip *models.Trip
	Actor      auth.Actor
	Access     models.Access

	Visible   []models.Location
	Waypoints []models.Location

	// WaypointsVersion changes only when the routable set changes
	WaypointsVersion uint64
}

type update struct {
	changed []NodeID
	apply   func(*state)
}

type state struct {
	locations []models.Location
	trip      *models.Trip
	actor     auth.Actor
	access    models.Access
	date      models.Date
	ordering  *models.RouteResult

	scoped    []models.Location
	dated     []models.Location
	visible   []models.Location
	waypoints []models.Location

	version          uint64
	waypointsVersion uint64
}

// Pipeline owns the recompute graph and its single dispatcher
type Pipeline struct {
	graph  *Graph
	tz     *time.Location
	logger *zap.Logger

	inbox *stream.Pump[update]

	mu        sync.Mutex
	current   View
	listeners map[*stream.Pump[View]]struct{}
}

// NewGraphForPipeline returns the graph the pipeline dispatches over
func NewGraphForPipeline() (*Graph, error) {
	g := NewGraph()
	for _, in := range []NodeID{InputLocations, InputTrip, InputActor, InputAccess, InputDate, InputOrdering} {
		if err := g.AddInput(in); err != nil {
			return nil, err
		}
	}
	nodes := []struct {
		id   NodeID
		deps []NodeID
	}{
		{NodeScoped, []NodeID{InputLocations, InputTrip, InputActor, InputAccess}},
		{NodeDated, []NodeID{NodeScoped, InputDate}},
		{NodeVisible, []NodeID{NodeDated, InputOrdering, InputDate, InputTrip}},
		{NodeWaypoints, []NodeID{NodeDated}},
	}
	for _, n := range nodes {
		if err := g.AddNode(n.id, n.deps...); err != nil {
			return nil, err
		}
	}
	if err := g.Build(); err != nil {
		return nil, err
	}
	return g, nil
}

// New creates a pipeline selecting date, interpreting unscheduled records in
// tz. Call Run to start the dispatcher.
func New(date models.Date, tz *time.Location, logger *zap.Logger) (*Pipeline, error) {
	if tz == nil {
		tz = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g, err := NewGraphForPipeline()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		graph:     g,
		tz:        tz,
		logger:    logger.Named("pipeline"),
		inbox:     stream.NewPump[update](context.Background()),
		current:   View{Date: date, Visible: []models.Location{}, Waypoints: []models.Location{}},
		listeners: make(map[*stream.Pump[View]]struct{}),
	}, nil
}

// Run dispatches input changes until ctx is done. Inputs set before Run are
// queued. A pipeline runs once.
func (p *Pipeline) Run(ctx context.Context) {
	defer p.inbox.Close()
	inbox := p.inbox

	p.mu.Lock()
	st := &state{date: p.current.Date, scoped: []models.Location{}, dated: []models.Location{},
		visible: []models.Location{}, waypoints: []models.Location{}}
	p.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-inbox.C():
			if !ok {
				return
			}
			changed := map[NodeID]bool{}
			u.apply(st)
			for _, id := range u.changed {
				changed[id] = true
			}
			// Coalesce whatever else is already queued into this pass.
		drain:
			for {
				select {
				case more, ok := <-inbox.C():
					if !ok {
						break drain
					}
					more.apply(st)
					for _, id := range more.changed {
						changed[id] = true
					}
				default:
					break drain
				}
			}
			p.recompute(st, changed)
		}
	}
}

func (p *Pipeline) recompute(st *state, changed map[NodeID]bool) {
	ids := make([]NodeID, 0, len(changed))
	for id := range changed {
		ids = append(ids, id)
	}
	var tripID *string
	if st.trip != nil {
		tripID = &st.trip.ID
	}

	for _, node := range p.graph.Affected(ids...) {
		switch node {
		case NodeScoped:
			st.scoped = Scope(st.locations, st.trip, st.actor, st.access)
		case NodeDated:
			st.dated = OnDate(st.scoped, st.date, p.tz)
		case NodeVisible:
			st.visible = Visible(st.dated, st.ordering, st.date, tripID)
		case NodeWaypoints:
			next := Waypoints(st.dated)
			if !sameWaypoints(next, st.waypoints) {
				st.waypointsVersion++
			}
			st.waypoints = next
		}
	}

	st.version++
	view := View{
		Version:          st.version,
		Date:             st.date,
		Actor:            st.actor,
		Access:           st.access,
		Visible:          st.visible,
		Waypoints:        st.waypoints,
		WaypointsVersion: st.waypointsVersion,
	}
	if st.trip != nil {
		t := st.trip.Clone()
		view.ActiveTrip = &t
	}

	p.mu.Lock()
	p.current = view
	for l := range p.listeners {
		l.Send(view)
	}
	p.mu.Unlock()

	p.logger.Debug("view recomputed",
		zap.Uint64("version", view.Version),
		zap.Int("visible", len(view.Visible)),
		zap.Int("waypoints", len(view.Waypoints)),
	)
}

// Current returns the latest view
func (p *Pipeline) Current() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe streams views: the current one immediately, then one per
// dispatcher pass, until ctx is done
func (p *Pipeline) Subscribe(ctx context.Context) <-chan View {
	pump := stream.NewPump[View](ctx)
	p.mu.Lock()
	pump.Send(p.current)
	p.listeners[pump] = struct{}{}
	p.mu.Unlock()

	go func() {
		<-pump.Stopped()
		p.mu.Lock()
		delete(p.listeners, pump)
		p.mu.Unlock()
	}()
	return pump.C()
}

func (p *Pipeline) send(u update) {
	if !p.inbox.Send(u) {
		p.logger.Debug("pipeline stopped, input dropped")
	}
}

// SetLocations replaces the full location snapshot
func (p *Pipeline) SetLocations(locs []models.Location) {
	p.send(update{changed: []NodeID{InputLocations}, apply: func(s *state) { s.locations = locs }})
}

// SetActiveTrip sets or clears (nil) the active trip together with the
// actor's access to it
func (p *Pipeline) SetActiveTrip(trip *models.Trip, access models.Access) {
	var t *models.Trip
	if trip != nil {
		c := trip.Clone()
		t = &c
	}
	p.send(update{changed: []NodeID{InputTrip, InputAccess}, apply: func(s *state) {
		s.trip = t
		s.access = access
	}})
}

// SetAccess updates the gating flags of the active trip
func (p *Pipeline) SetAccess(access models.Access) {
	p.send(update{changed: []NodeID{InputAccess}, apply: func(s *state) { s.access = access }})
}

// SetActor switches the actor
func (p *Pipeline) SetActor(actor auth.Actor) {
	p.send(update{changed: []NodeID{InputActor}, apply: func(s *state) { s.actor = actor }})
}

// SetDate selects a calendar day
func (p *Pipeline) SetDate(date models.Date) {
	p.send(update{changed: []NodeID{InputDate}, apply: func(s *state) { s.date = date }})
}

// SetOrdering supplies the latest route result, or nil to forget it
func (p *Pipeline) SetOrdering(result *models.RouteResult) {
	p.send(update{changed: []NodeID{InputOrdering}, apply: func(s *state) { s.ordering = result }})
}
