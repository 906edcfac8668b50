package route

import (
	"context"
	"time"

	"github.com/jengzang/trip-planner-go/internal/models"
)

// DirectionsLeg is one provider leg between consecutive stops
type DirectionsLeg struct {
	Polyline       []models.LatLng
	Duration       time.Duration
	DistanceMeters float64
}

// DirectionsResult is what a provider returns for one request
type DirectionsResult struct {
	OverviewPolyline []models.LatLng
	Legs             []DirectionsLeg
}

// Directions is the external routing provider. The result carries one leg
// per hop: origin to the first waypoint, and so on, ending at destination.
type Directions interface {
	Route(ctx context.Context, origin, destination models.LatLng, waypoints []models.LatLng, optimize bool) (*DirectionsResult, error)
}
