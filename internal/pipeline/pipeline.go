// Package pipeline runs the background indexing job: every unprocessed photo
// goes through the face engine, its faces are persisted, and the library is
// re-clustered at the end.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/facesift/internal/cluster"
	"github.com/andresmejia3/facesift/internal/events"
	"github.com/andresmejia3/facesift/internal/store"
	"github.com/andresmejia3/facesift/internal/types"
	"github.com/google/uuid"
)

// ErrAlreadyRunning is returned by Start while a job is in progress.
var ErrAlreadyRunning = errors.New("face indexing is already running")

// ProgressEvery is how many processed photos separate two progress events.
const ProgressEvery = 10

// FaceProcessor turns a photo into accepted face records.
type FaceProcessor interface {
	Load(ctx context.Context) error
	ProcessImage(ctx context.Context, path string) ([]types.FaceRecord, error)
}

// State is a point-in-time view of the current or last job.
type State struct {
	JobID      string `json:"job_id,omitempty"`
	Running    bool   `json:"running"`
	Phase      string `json:"phase,omitempty"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	FacesFound int    `json:"faces_found"`
	Persons    int    `json:"total_persons"`
	Cancelled  bool   `json:"cancelled"`
	Error      string `json:"error,omitempty"`
}

// Indexer owns the indexing job. At most one job runs at a time.
type Indexer struct {
	store     store.Store
	processor FaceProcessor
	clusterer *cluster.Engine
	sink      events.Sink
	workers   int

	running atomic.Bool

	// mu also serializes Start against RequestCancel so a cancel can never
	// land on the previous job's flag.
	mu     sync.RWMutex
	state  State
	cancel *atomic.Bool
	done   chan struct{}
}

// New creates an Indexer. A nil sink discards events.
func New(s store.Store, p FaceProcessor, c *cluster.Engine, sink events.Sink) *Indexer {
	if sink == nil {
		sink = events.Discard
	}
	return &Indexer{store: s, processor: p, clusterer: c, sink: sink, workers: 1}
}

// WithWorkers sets how many photos are processed concurrently.
func (ix *Indexer) WithWorkers(n int) *Indexer {
	if n < 1 {
		n = 1
	}
	ix.workers = n
	return ix
}

// IsRunning reports whether a job is in progress.
func (ix *Indexer) IsRunning() bool {
	return ix.running.Load()
}

// Start launches a job in the background and returns its ID. eps <= 0 uses
// the default clustering epsilon. Cancelling ctx stops the job the same way
// RequestCancel does.
func (ix *Indexer) Start(ctx context.Context, eps float32) (string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.running.CompareAndSwap(false, true) {
		return "", ErrAlreadyRunning
	}
	if eps <= 0 {
		eps = cluster.DefaultEpsilon
	}

	jobID := uuid.NewString()
	cancel := new(atomic.Bool)
	done := make(chan struct{})

	ix.state = State{JobID: jobID, Running: true, Phase: events.PhaseIndexing}
	ix.cancel = cancel
	ix.done = done

	go ix.run(ctx, jobID, eps, cancel, done)
	return jobID, nil
}

// RequestCancel asks the running job to stop at its next checkpoint. It is a
// no-op while idle.
func (ix *Indexer) RequestCancel() {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.running.Load() && ix.cancel != nil {
		ix.cancel.Store(true)
	}
}

// State returns a snapshot of the current or last job.
func (ix *Indexer) State() State {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.state
}

// Wait blocks until the current job, if any, has finished.
func (ix *Indexer) Wait() {
	ix.mu.RLock()
	done := ix.done
	ix.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (ix *Indexer) run(ctx context.Context, jobID string, eps float32, cancel *atomic.Bool, done chan struct{}) {
	fin := events.IndexFinished{JobID: jobID}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("face indexing panicked", "job_id", jobID, "panic", r)
			fin.Error = fmt.Sprint(r)
		}
		ix.mu.Lock()
		ix.state.Running = false
		ix.state.FacesFound = fin.TotalFaces
		ix.state.Persons = fin.TotalPersons
		ix.state.Cancelled = fin.Cancelled
		ix.state.Error = fin.Error
		ix.mu.Unlock()

		// Listeners may start the next job as soon as they see the event.
		ix.running.Store(false)
		ix.sink.Emit(events.Event{Type: events.TypeIndexFinished, Data: fin})
		close(done)
	}()

	cancelled := func() bool {
		return cancel.Load() || ctx.Err() != nil
	}

	if err := ix.processor.Load(ctx); err != nil {
		slog.Error("face indexing could not start", "job_id", jobID, "error", err)
		fin.Error = err.Error()
		return
	}

	stats, err := ix.store.GetStats(ctx)
	if err != nil {
		fin.Error = fmt.Sprintf("failed to read stats: %v", err)
		return
	}
	files, err := ix.store.GetUnprocessedImageFiles(ctx)
	if err != nil {
		fin.Error = fmt.Sprintf("failed to list unprocessed files: %v", err)
		return
	}

	p := &progress{
		ix:      ix,
		current: stats.ProcessedCount,
		total:   stats.ProcessedCount + len(files),
		faces:   stats.FaceCount,
	}
	p.publish(events.PhaseIndexing)
	slog.Info("face indexing started", "job_id", jobID, "photos", len(files), "already_indexed", stats.ProcessedCount)

	ix.processAll(ctx, files, p, cancelled)
	fin.TotalFaces = p.snapshot().faces

	if cancelled() {
		fin.Cancelled = true
		fin.TotalPersons = ix.countPersons(ctx)
		slog.Info("face indexing cancelled", "job_id", jobID, "processed", p.snapshot().current)
		return
	}

	p.publish(events.PhaseClustering)

	sink := ix.sink
	_, err = ix.clusterer.Run(ctx, eps, func(cp events.ClusterProgress) {
		sink.Emit(events.Event{Type: events.TypeClusterProgress, Data: cp})
	}, cancelled)
	switch {
	case err == nil:
	case errors.Is(err, cluster.ErrCancelled):
		fin.Cancelled = true
	case errors.Is(err, cluster.ErrAlreadyRunning):
		slog.Warn("clustering skipped, another run is in progress", "job_id", jobID)
		fin.Error = "clustering skipped: " + err.Error()
	default:
		slog.Error("clustering failed", "job_id", jobID, "error", err)
	}
	fin.TotalPersons = ix.countPersons(ctx)
	slog.Info("face indexing finished", "job_id", jobID, "faces", fin.TotalFaces, "persons", fin.TotalPersons)
}

// processAll feeds files to the worker pool in ascending ID order. Each worker
// checks the cancel flag before taking on a photo.
func (ix *Indexer) processAll(ctx context.Context, files []types.ImageFile, p *progress, cancelled func() bool) {
	tasks := make(chan types.ImageFile, ix.workers)
	var wg sync.WaitGroup

	for i := 0; i < ix.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range tasks {
				if cancelled() {
					continue
				}
				faces, err := ix.processFile(ctx, f)
				if err != nil {
					slog.Warn("photo skipped", "file_id", f.ID, "path", f.Path, "error", err)
				}
				p.advance(faces)
			}
		}()
	}

	for _, f := range files {
		if cancelled() {
			break
		}
		tasks <- f
	}
	close(tasks)
	wg.Wait()

	p.publish(events.PhaseIndexing)
}

// processFile runs one photo through the engine and persists its faces
// together with its scan status. It returns how many faces were stored, which
// is zero whenever an error is returned.
func (ix *Indexer) processFile(ctx context.Context, f types.ImageFile) (int, error) {
	records, err := ix.processor.ProcessImage(ctx, f.Path)
	if err != nil {
		return 0, err
	}

	faces := make([]store.NewFace, 0, len(records))
	for _, r := range records {
		bbox, err := json.Marshal(r.Box)
		if err != nil {
			return 0, fmt.Errorf("failed to encode bbox: %w", err)
		}
		faces = append(faces, store.NewFace{BBoxJSON: string(bbox), Embedding: r.Embedding})
	}

	status := types.ScanNoFacesFound
	if len(faces) > 0 {
		status = types.ScanHasFaces
	}
	if err := ix.store.SaveScan(ctx, f.ID, status, faces); err != nil {
		return 0, fmt.Errorf("failed to save scan: %w", err)
	}
	return len(faces), nil
}

func (ix *Indexer) countPersons(ctx context.Context) int {
	n, err := ix.store.CountPersons(context.WithoutCancel(ctx))
	if err != nil {
		slog.Warn("failed to count persons", "error", err)
		return 0
	}
	return n
}

// progress holds the job counters shared by the workers.
type progress struct {
	ix *Indexer

	mu        sync.Mutex
	current   int
	total     int
	faces     int
	sinceLast int
}

type counters struct {
	current, total, faces int
}

func (p *progress) snapshot() counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return counters{p.current, p.total, p.faces}
}

func (p *progress) advance(faces int) {
	p.mu.Lock()
	p.current++
	p.faces += faces
	p.sinceLast++
	emit := p.sinceLast >= ProgressEvery
	if emit {
		p.sinceLast = 0
	}
	p.mu.Unlock()

	if emit {
		p.publish(events.PhaseIndexing)
	}
}

// publish updates the job state and emits a progress event for phase.
func (p *progress) publish(phase string) {
	c := p.snapshot()

	p.ix.mu.Lock()
	p.ix.state.Phase = phase
	p.ix.state.Current = c.current
	p.ix.state.Total = c.total
	p.ix.state.FacesFound = c.faces
	p.ix.mu.Unlock()

	p.ix.sink.Emit(events.Event{Type: events.TypeIndexProgress, Data: events.IndexProgress{
		Current:    c.current,
		Total:      c.total,
		FacesFound: c.faces,
		Phase:      phase,
	}})
}
