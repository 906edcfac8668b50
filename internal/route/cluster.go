// Package route orders waypoints into proximity clusters and decomposes the
// ordered visit into directions legs.
package route

import (
	"context"
	"errors"
	"sort"

	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/spatial"
)

// Cluster groups point indices so that two points share a cluster exactly
// when a chain of pairwise distances, each <= thresholdMeters, connects
// them. Clusters appear in order of their seed; members ascend.
func Cluster(points []models.LatLng, thresholdMeters float64) [][]int {
	n := len(points)
	assigned := make([]bool, n)
	clusters := [][]int{}

	for seed := 0; seed < n; seed++ {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		members := []int{seed}

		// Grow until a full pass adds nothing.
		for grown := true; grown; {
			grown = false
			for j := 0; j < n; j++ {
				if assigned[j] {
					continue
				}
				for _, m := range members {
					if spatial.WithinThreshold(toPoint(points[j]), toPoint(points[m]), thresholdMeters) {
						assigned[j] = true
						members = append(members, j)
						grown = true
						break
					}
				}
			}
		}

		sort.Ints(members)
		clusters = append(clusters, members)
	}
	return clusters
}

// ClusterRequest is the value sent to the worker. It shares no memory with
// the caller.
type ClusterRequest struct {
	Points    []models.LatLng
	Threshold float64
}

// ClusterAssignment is the worker's reply
type ClusterAssignment struct {
	Clusters [][]int
}

// ErrWorkerStopped is returned when the worker is no longer running
var ErrWorkerStopped = errors.New("cluster worker stopped")

type clusterJob struct {
	req   ClusterRequest
	reply chan ClusterAssignment
}

// ClusterWorker runs clustering on its own goroutine so callers never spend
// the quadratic scan on their own
type ClusterWorker struct {
	jobs chan clusterJob
	done <-chan struct{}
}

// StartClusterWorker launches a worker that lives until ctx is done
func StartClusterWorker(ctx context.Context) *ClusterWorker {
	w := &ClusterWorker{jobs: make(chan clusterJob), done: ctx.Done()}
	go w.run(ctx)
	return w
}

func (w *ClusterWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			job.reply <- ClusterAssignment{Clusters: Cluster(job.req.Points, job.req.Threshold)}
		}
	}
}

// Assign submits req and waits for the assignment or ctx
func (w *ClusterWorker) Assign(ctx context.Context, req ClusterRequest) (ClusterAssignment, error) {
	job := clusterJob{
		req:   ClusterRequest{Points: append([]models.LatLng(nil), req.Points...), Threshold: req.Threshold},
		reply: make(chan ClusterAssignment, 1),
	}
	select {
	case w.jobs <- job:
	case <-ctx.Done():
		return ClusterAssignment{}, ctx.Err()
	case <-w.done:
		return ClusterAssignment{}, ErrWorkerStopped
	}
	select {
	case out := <-job.reply:
		return out, nil
	case <-ctx.Done():
		return ClusterAssignment{}, ctx.Err()
	case <-w.done:
		return ClusterAssignment{}, ErrWorkerStopped
	}
}

func toPoint(p models.LatLng) spatial.Point {
	return spatial.Point{Lat: p.Lat, Lng: p.Lng}
}

func toLatLng(p spatial.Point) models.LatLng {
	return models.LatLng{Lat: p.Lat, Lng: p.Lng}
}
