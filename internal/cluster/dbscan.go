// Package cluster groups stored face embeddings into persons with DBSCAN
// over cosine distance.
package cluster

import (
	"errors"

	"github.com/andresmejia3/facesift/internal/embedding"
)

// ErrCancelled is returned when the cancellation predicate fires mid-run.
var ErrCancelled = errors.New("clustering cancelled")

const (
	// DefaultEpsilon is the cosine distance under which two faces are neighbors.
	DefaultEpsilon float32 = 0.42

	// MinSamples is the neighborhood size, the point itself included, needed to
	// seed or grow a cluster. Two means a face needs at least one look-alike.
	MinSamples = 2
)

// Label values. Positive labels are cluster IDs starting at 1.
const (
	Unvisited = 0
	Noise     = -1
)

// DBSCAN labels points (unit-length embeddings) in index order. Cluster IDs are
// assigned as clusters are discovered, so identical input gives identical
// labels. cancelled, when non-nil, is polled before each unvisited point.
func DBSCAN(points [][]float32, eps float32, minSamples int, cancelled func() bool) ([]int, error) {
	if minSamples < 1 {
		minSamples = 1
	}
	labels := make([]int, len(points))
	clusterID := 0

	for i := range points {
		if labels[i] != Unvisited {
			continue
		}
		if cancelled != nil && cancelled() {
			return nil, ErrCancelled
		}

		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minSamples {
			labels[i] = Noise
			continue
		}

		clusterID++
		expandCluster(points, labels, i, neighbors, clusterID, eps, minSamples)
	}
	return labels, nil
}

func expandCluster(points [][]float32, labels []int, seed int, neighbors []int, clusterID int, eps float32, minSamples int) {
	labels[seed] = clusterID

	// Membership set so a point is enqueued at most once per expansion.
	inQueue := make(map[int]bool, len(neighbors))
	inQueue[seed] = true
	queue := make([]int, 0, len(neighbors))
	for _, n := range neighbors {
		if !inQueue[n] {
			inQueue[n] = true
			queue = append(queue, n)
		}
	}

	for head := 0; head < len(queue); head++ {
		p := queue[head]
		switch labels[p] {
		case Noise:
			// Border point: promoted, never expanded from.
			labels[p] = clusterID
		case Unvisited:
			labels[p] = clusterID
			pn := regionQuery(points, p, eps)
			if len(pn) < minSamples {
				continue
			}
			for _, q := range pn {
				if !inQueue[q] {
					inQueue[q] = true
					queue = append(queue, q)
				}
			}
		}
	}
}

// regionQuery returns every point within eps of points[i], i included.
func regionQuery(points [][]float32, i int, eps float32) []int {
	var out []int
	for j := range points {
		if embedding.CosineDistance(points[i], points[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

// Partition groups point indices by positive label. Noise is omitted.
func Partition(labels []int) map[int][]int {
	groups := make(map[int][]int)
	for i, l := range labels {
		if l > 0 {
			groups[l] = append(groups[l], i)
		}
	}
	return groups
}
