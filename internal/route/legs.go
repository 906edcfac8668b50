package route

import (
	"context"
	"fmt"
	"time"

	"github.com/jengzang/trip-planner-go/internal/models"
)

// BuildLegs asks dir for the route from origin through stops in order and
// returns the legs, copies of stops annotated with the leg that reaches
// them, and the overview polyline. No stops means no legs and no call.
func BuildLegs(ctx context.Context, dir Directions, origin models.LatLng, stops []models.Location) ([]models.RouteLeg, []models.Location, []models.LatLng, error) {
	if len(stops) == 0 {
		return []models.RouteLeg{}, []models.Location{}, nil, nil
	}

	destination := stops[len(stops)-1].Coordinates()
	waypoints := make([]models.LatLng, 0, len(stops)-1)
	for _, s := range stops[:len(stops)-1] {
		waypoints = append(waypoints, s.Coordinates())
	}

	res, err := dir.Route(ctx, origin, destination, waypoints, false)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get directions: %w", err)
	}
	if res == nil || len(res.Legs) != len(stops) {
		got := 0
		if res != nil {
			got = len(res.Legs)
		}
		return nil, nil, nil, fmt.Errorf("%w: expected %d legs, got %d", models.ErrNoRoute, len(stops), got)
	}

	legs := make([]models.RouteLeg, len(stops))
	annotated := make([]models.Location, len(stops))
	from := origin
	for i, s := range stops {
		dl := res.Legs[i]
		legs[i] = models.RouteLeg{
			StartPoint:     from,
			EndPoint:       s.Coordinates(),
			Polyline:       append([]models.LatLng(nil), dl.Polyline...),
			Duration:       dl.Duration,
			DistanceMeters: dl.DistanceMeters,
		}

		a := s.Clone()
		travel := dl.Duration
		dist := dl.DistanceMeters
		a.TravelTimeFromPrevious = &travel
		a.DistanceFromPrevious = &dist
		annotated[i] = a
		from = s.Coordinates()
	}
	return legs, annotated, res.OverviewPolyline, nil
}

// Aggregate totals a route: every leg's duration plus the stay at every
// waypoint but the last, and every leg's distance. No legs totals zero.
func Aggregate(legs []models.RouteLeg, waypoints []models.Location) (time.Duration, float64) {
	if len(legs) == 0 {
		return 0, 0
	}
	var total time.Duration
	var distance float64
	for _, l := range legs {
		total += l.Duration
		distance += l.DistanceMeters
	}
	for i := 0; i < len(waypoints)-1; i++ {
		total += waypoints[i].StayDuration
	}
	return total, distance
}
