package models

import "time"

// LatLng is a WGS84 coordinate pair in degrees
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RouteLeg is one directed travel segment between consecutive waypoints
type RouteLeg struct {
	StartPoint     LatLng        `json:"start_point"`
	EndPoint       LatLng        `json:"end_point"`
	Polyline       []LatLng      `json:"polyline"`
	Duration       time.Duration `json:"duration"`
	DistanceMeters float64       `json:"distance_meters"`
}

// RouteResult is the output of one route computation. An empty result is a
// valid terminal state meaning "no route".
type RouteResult struct {
	Date             Date          `json:"date"`
	TripID           *string       `json:"trip_id,omitempty"`
	Waypoints        []Location    `json:"waypoints"`
	Legs             []RouteLeg    `json:"legs"`
	OverviewPolyline []LatLng      `json:"overview_polyline,omitempty"`
	TotalTravelTime  time.Duration `json:"total_travel_time"`
	TotalDistance    float64       `json:"total_distance_meters"`
	ComputedAt       time.Time     `json:"computed_at"`
}

// IsEmpty reports whether the result carries no legs
func (r *RouteResult) IsEmpty() bool {
	return r == nil || len(r.Legs) == 0
}
