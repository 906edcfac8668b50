package spatial

import (
	"github.com/golang/geo/s2"
)

// Constants
const (
	EarthRadiusMeters = 6371000.0 // Earth's mean radius in meters
)

// HaversineDistance calculates the great-circle distance between two points in meters
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Distance is HaversineDistance over Points
func Distance(a, b Point) float64 {
	return HaversineDistance(a.Lat, a.Lng, b.Lat, b.Lng)
}

// WithinThreshold reports whether a and b are at most threshold meters apart.
// The boundary is inclusive.
func WithinThreshold(a, b Point, threshold float64) bool {
	return Distance(a, b) <= threshold
}
