package route

import (
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/spatial"
)

// OrderClusters returns a visiting order of point indices. From the current
// position it enters the cluster holding the closest unvisited point, walks
// that cluster nearest-first, then leaves from the member farthest from the
// cluster centroid. Ties go to the lower index.
func OrderClusters(start models.LatLng, points []models.LatLng, clusters [][]int) []int {
	order := make([]int, 0, len(points))
	visited := make([]bool, len(clusters))
	current := toPoint(start)

	for range clusters {
		best, bestIdx := -1, -1
		bestDist := 0.0
		for ci, members := range clusters {
			if visited[ci] {
				continue
			}
			for _, m := range members {
				d := spatial.Distance(current, toPoint(points[m]))
				if best == -1 || d < bestDist || (d == bestDist && m < bestIdx) {
					best, bestIdx, bestDist = ci, m, d
				}
			}
		}
		if best == -1 {
			break
		}
		visited[best] = true

		order = append(order, walkCluster(current, points, clusters[best])...)
		current = exitPoint(points, clusters[best])
	}
	return order
}

// walkCluster visits members nearest-neighbour first from `from`
func walkCluster(from spatial.Point, points []models.LatLng, members []int) []int {
	remaining := append([]int(nil), members...)
	out := make([]int, 0, len(members))
	pos := from
	for len(remaining) > 0 {
		candidates := make([]spatial.Point, len(remaining))
		for i, m := range remaining {
			candidates[i] = toPoint(points[m])
		}
		i := spatial.Nearest(pos, candidates)
		out = append(out, remaining[i])
		pos = candidates[i]
		remaining = append(remaining[:i], remaining[i+1:]...)
	}
	return out
}

// exitPoint is the member farthest from the arithmetic centroid
func exitPoint(points []models.LatLng, members []int) spatial.Point {
	pts := make([]spatial.Point, len(members))
	for i, m := range members {
		pts[i] = toPoint(points[m])
	}
	return pts[spatial.Farthest(spatial.Centroid(pts), pts)]
}
