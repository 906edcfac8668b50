package spatial

import (
	"github.com/golang/geo/r3"
	"github.com/golang/geo/s2"
)

// Point represents a 2D point with latitude and longitude
type Point struct {
	Lat float64
	Lng float64
}

// Centroid returns the normalized mean of the points' unit vectors, which
// stays correct across the antimeridian. Antipodal inputs that cancel out
// return the first point.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}

	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lng)).Vector)
	}
	if sum.Norm() < 1e-12 {
		return points[0]
	}

	ll := s2.LatLngFromPoint(s2.Point{Vector: sum.Normalize()})
	return Point{Lat: ll.Lat.Degrees(), Lng: ll.Lng.Degrees()}
}

// PathLength calculates the total length of a path (sequence of points) in meters
func PathLength(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}

	var totalDist float64
	for i := 1; i < len(points); i++ {
		totalDist += Distance(points[i-1], points[i])
	}

	return totalDist
}

// Nearest returns the index of the candidate closest to from, or -1 for an
// empty slice. Ties keep the earliest index.
func Nearest(from Point, candidates []Point) int {
	best := -1
	bestDist := 0.0
	for i, c := range candidates {
		d := Distance(from, c)
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// Farthest returns the index of the candidate farthest from from, or -1 for
// an empty slice. Ties keep the earliest index.
func Farthest(from Point, candidates []Point) int {
	best := -1
	bestDist := 0.0
	for i, c := range candidates {
		d := Distance(from, c)
		if best == -1 || d > bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}
