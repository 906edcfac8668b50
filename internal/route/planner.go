package route

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/stream"
	"go.uber.org/zap"
)

// State is the planner's position in Idle -> Computing -> {Ready, Failed}
type State int

const (
	StateIdle State = iota
	StateComputing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateComputing:
		return "computing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Defaults for PlannerConfig
const (
	DefaultDebounce           = 500 * time.Millisecond
	DefaultDirectionsTimeout  = 20 * time.Second
	DefaultProximityThreshold = 500.0
)

// Input is everything one computation needs
type Input struct {
	Date   models.Date
	TripID *string

	// Start is the live position. When StartLocationID names one of the
	// waypoints, that location is the start instead. With neither, the
	// first waypoint is.
	Start           *models.LatLng
	StartLocationID string

	Waypoints []models.Location
	Threshold float64

	// PreserveOrder keeps Waypoints in the given order (manual reorder)
	PreserveOrder bool
}

// Update is published on every state change
type Update struct {
	State  State
	Result *models.RouteResult
}

// PlannerConfig tunes a Planner
type PlannerConfig struct {
	Debounce time.Duration
	Timeout  time.Duration
}

// Planner debounces route requests and runs at most one computation at a
// time. A newer request cancels both a pending timer and an in-flight
// computation.
type Planner struct {
	dir    Directions
	worker *ClusterWorker
	cfg    PlannerConfig
	logger *zap.Logger
	now    func() time.Time

	base       context.Context
	stop       context.CancelFunc
	mu         sync.Mutex
	generation uint64
	timer      *time.Timer
	cancel     context.CancelFunc
	state      State
	result     *models.RouteResult
	listeners  map[*stream.Pump[Update]]struct{}
}

// NewPlanner creates a planner. Close releases its worker.
func NewPlanner(dir Directions, cfg PlannerConfig, logger *zap.Logger) *Planner {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDirectionsTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Planner{
		dir:       dir,
		worker:    StartClusterWorker(base),
		cfg:       cfg,
		logger:    logger.Named("route"),
		now:       time.Now,
		base:      base,
		stop:      stop,
		listeners: make(map[*stream.Pump[Update]]struct{}),
	}
}

// Request schedules a computation after the debounce window, superseding
// anything pending or running
func (p *Planner) Request(in Input) {
	in.Waypoints = cloneLocations(in.Waypoints)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.base.Err() != nil {
		return
	}
	gen := p.supersedeLocked()
	p.timer = time.AfterFunc(p.cfg.Debounce, func() { p.fire(gen, in) })
}

// Clear drops any pending work and the last result and returns to Idle
func (p *Planner) Clear() {
	p.mu.Lock()
	p.supersedeLocked()
	p.state = StateIdle
	p.result = nil
	p.notifyLocked()
	p.mu.Unlock()
}

// Close stops the planner for good
func (p *Planner) Close() {
	p.mu.Lock()
	p.supersedeLocked()
	p.mu.Unlock()
	p.stop()
}

// Current returns the state and the last terminal result
func (p *Planner) Current() (State, *models.RouteResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.result
}

// Subscribe streams every state change until ctx is done, starting with
// the current one
func (p *Planner) Subscribe(ctx context.Context) <-chan Update {
	pump := stream.NewPump[Update](ctx)
	p.mu.Lock()
	pump.Send(Update{State: p.state, Result: p.result})
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

func (p *Planner) supersedeLocked() uint64 {
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return p.generation
}

func (p *Planner) fire(gen uint64, in Input) {
	p.mu.Lock()
	if gen != p.generation || p.base.Err() != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(p.base, p.cfg.Timeout)
	p.cancel = cancel
	p.timer = nil
	p.state = StateComputing
	p.notifyLocked()
	p.mu.Unlock()

	result, err := p.compute(ctx, in)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		// Superseded while computing; the newer request owns the state.
		return
	}
	p.cancel = nil

	if err != nil {
		p.logger.Warn("route computation failed",
			zap.String("date", string(in.Date)),
			zap.Int("waypoints", len(in.Waypoints)),
			zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			zap.Error(err),
		)
		p.state = StateFailed
		p.result = emptyResult(in, p.now())
	} else {
		p.state = StateReady
		p.result = result
	}
	p.notifyLocked()
}

func (p *Planner) notifyLocked() {
	u := Update{State: p.state, Result: p.result}
	for l := range p.listeners {
		l.Send(u)
	}
}

func (p *Planner) compute(ctx context.Context, in Input) (*models.RouteResult, error) {
	if len(in.Waypoints) == 0 {
		return emptyResult(in, p.now()), nil
	}
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = DefaultProximityThreshold
	}

	var (
		origin    models.LatLng
		startStop *models.Location
		stops     = make([]models.Location, 0, len(in.Waypoints))
	)
	startID := in.StartLocationID
	if in.Start == nil && startID == "" {
		startID = in.Waypoints[0].ID
	}
	for i := range in.Waypoints {
		w := in.Waypoints[i]
		if startStop == nil && startID != "" && w.ID == startID {
			s := w.Clone()
			s.ClearTravel()
			startStop = &s
			continue
		}
		stops = append(stops, w)
	}
	switch {
	case startStop != nil:
		origin = startStop.Coordinates()
	case in.Start != nil:
		origin = *in.Start
	default:
		// Designated start is not among the waypoints.
		origin = in.Waypoints[0].Coordinates()
	}

	if !in.PreserveOrder && len(stops) > 1 {
		points := make([]models.LatLng, len(stops))
		for i, s := range stops {
			points[i] = s.Coordinates()
		}
		assignment, err := p.worker.Assign(ctx, ClusterRequest{Points: points, Threshold: threshold})
		if err != nil {
			return nil, err
		}
		order := OrderClusters(origin, points, assignment.Clusters)
		ordered := make([]models.Location, len(order))
		for i, idx := range order {
			ordered[i] = stops[idx]
		}
		stops = ordered
	}

	legs, annotated, overview, err := BuildLegs(ctx, p.dir, origin, stops)
	if err != nil {
		return nil, err
	}

	waypoints := make([]models.Location, 0, len(annotated)+1)
	if startStop != nil {
		waypoints = append(waypoints, *startStop)
	}
	waypoints = append(waypoints, annotated...)

	total, distance := Aggregate(legs, waypoints)
	return &models.RouteResult{
		Date:             in.Date,
		TripID:           in.TripID,
		Waypoints:        waypoints,
		Legs:             legs,
		OverviewPolyline: overview,
		TotalTravelTime:  total,
		TotalDistance:    distance,
		ComputedAt:       p.now(),
	}, nil
}

func emptyResult(in Input, now time.Time) *models.RouteResult {
	return &models.RouteResult{
		Date:       in.Date,
		TripID:     in.TripID,
		Waypoints:  []models.Location{},
		Legs:       []models.RouteLeg{},
		ComputedAt: now,
	}
}

func cloneLocations(in []models.Location) []models.Location {
	out := make([]models.Location, len(in))
	for i, l := range in {
		out[i] = l.Clone()
	}
	return out
}
