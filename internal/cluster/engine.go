package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/facesift/internal/embedding"
	"github.com/andresmejia3/facesift/internal/events"
	"github.com/andresmejia3/facesift/internal/store"
)

// ErrAlreadyRunning is returned when a clustering run is already in progress.
var ErrAlreadyRunning = errors.New("clustering is already running")

// Clustering phases reported through ClusterProgress.
const (
	PhaseLoading    = "loading"
	PhaseClustering = "clustering"
	PhaseSaving     = "saving"
	PhaseDone       = "done"
)

// Engine re-clusters every stored face into persons. At most one run is
// active at a time.
type Engine struct {
	store      store.Store
	minSamples int
	running    atomic.Bool
}

// NewEngine creates an Engine over s using MinSamples.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s, minSamples: MinSamples}
}

// WithMinSamples overrides the neighborhood size needed to form a cluster.
func (e *Engine) WithMinSamples(n int) *Engine {
	e.minSamples = n
	return e
}

// IsRunning reports whether a run is in progress.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Begin takes the run gate for a caller that wants to reject a conflicting
// request before doing the work elsewhere. The caller then calls RunHeld and
// must call release when done. release is safe to call more than once.
func (e *Engine) Begin() (release func(), err error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	var once sync.Once
	return func() { once.Do(func() { e.running.Store(false) }) }, nil
}

// Run labels all stored faces and replaces the person assignments with the
// result, one "Person {n}" per cluster. It returns the number of faces
// assigned. Labels are computed in memory first, so a cancelled or failed
// computation leaves the previous assignments untouched.
func (e *Engine) Run(ctx context.Context, eps float32, progress func(events.ClusterProgress), cancelled func() bool) (int, error) {
	release, err := e.Begin()
	if err != nil {
		return 0, err
	}
	defer release()
	return e.RunHeld(ctx, eps, progress, cancelled)
}

// RunHeld is Run for a caller already holding the gate from Begin.
func (e *Engine) RunHeld(ctx context.Context, eps float32, progress func(events.ClusterProgress), cancelled func() bool) (int, error) {
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	if progress == nil {
		progress = func(events.ClusterProgress) {}
	}
	stop := func() bool {
		return ctx.Err() != nil || (cancelled != nil && cancelled())
	}

	progress(events.ClusterProgress{Phase: PhaseLoading})
	faces, err := e.store.GetAllFaces(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load faces: %w", err)
	}

	ids := make([]int64, 0, len(faces))
	points := make([][]float32, 0, len(faces))
	for _, f := range faces {
		v, err := embedding.Normalize(f.Embedding)
		if err != nil {
			slog.Warn("face skipped for clustering", "face_id", f.ID, "error", err)
			continue
		}
		ids = append(ids, f.ID)
		points = append(points, v)
	}

	n := len(points)
	progress(events.ClusterProgress{Phase: PhaseClustering, Current: 0, Total: n})
	labels, err := DBSCAN(points, eps, e.minSamples, stop)
	if err != nil {
		return 0, err
	}
	progress(events.ClusterProgress{Phase: PhaseClustering, Current: n, Total: n})

	// Last checkpoint before anything is written.
	if stop() {
		return 0, ErrCancelled
	}

	assigned, err := e.commit(ctx, ids, labels, progress)
	if err != nil {
		return 0, err
	}
	progress(events.ClusterProgress{Phase: PhaseDone, Current: n, Total: n})
	slog.Info("clustering finished", "faces", n, "assigned", assigned, "epsilon", eps)
	return assigned, nil
}

func (e *Engine) commit(ctx context.Context, ids []int64, labels []int, progress func(events.ClusterProgress)) (int, error) {
	if err := e.store.ResetAllAssignments(ctx); err != nil {
		return 0, fmt.Errorf("failed to reset assignments: %w", err)
	}

	groups := Partition(labels)
	clusterIDs := make([]int, 0, len(groups))
	for id := range groups {
		clusterIDs = append(clusterIDs, id)
	}
	sort.Ints(clusterIDs)

	assigned := 0
	for i, cid := range clusterIDs {
		personID, err := e.store.CreatePerson(ctx, fmt.Sprintf("Person %d", cid))
		if err != nil {
			return assigned, fmt.Errorf("failed to create person: %w", err)
		}
		for _, idx := range groups[cid] {
			if err := e.store.AssignToPerson(ctx, ids[idx], personID); err != nil {
				return assigned, fmt.Errorf("failed to assign face %d: %w", ids[idx], err)
			}
			assigned++
		}
		progress(events.ClusterProgress{Phase: PhaseSaving, Current: i + 1, Total: len(clusterIDs)})
	}
	return assigned, nil
}
