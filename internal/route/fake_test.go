package route

import (
	"context"
	"sync"
	"time"

	"github.com/jengzang/trip-planner-go/internal/models"
)

// fakeDirections returns one straight-line leg per hop. Each leg takes a
// minute per kilometre.
type fakeDirections struct {
	mu    sync.Mutex
	calls [][]models.LatLng

	// block, when set, makes Route wait for ctx before returning
	block bool
	err   error
}

func (f *fakeDirections) Route(ctx context.Context, origin, destination models.LatLng, waypoints []models.LatLng, optimize bool) (*DirectionsResult, error) {
	stops := append(append([]models.LatLng{origin}, waypoints...), destination)
	f.mu.Lock()
	f.calls = append(f.calls, stops)
	block, err := f.block, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	res := &DirectionsResult{OverviewPolyline: stops}
	for i := 1; i < len(stops); i++ {
		d := dist(stops[i-1], stops[i])
		res.Legs = append(res.Legs, DirectionsLeg{
			Polyline:       []models.LatLng{stops[i-1], stops[i]},
			Duration:       time.Duration(d/1000*60) * time.Second,
			DistanceMeters: d,
		})
	}
	return res, nil
}

func (f *fakeDirections) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDirections) setBlock(b bool) {
	f.mu.Lock()
	f.block = b
	f.mu.Unlock()
}

func stop(id string, lat, lng float64) models.Location {
	return models.Location{ID: id, Name: id, Latitude: lat, Longitude: lng, StayDuration: 30 * time.Minute}
}
