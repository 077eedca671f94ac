package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facesift/internal/cluster"
	"github.com/andresmejia3/facesift/internal/embedding"
	"github.com/andresmejia3/facesift/internal/events"
	"github.com/andresmejia3/facesift/internal/pipeline"
	"github.com/andresmejia3/facesift/internal/store"
	"github.com/andresmejia3/facesift/internal/types"
)

// stubProcessor finds one identical face in every photo, optionally waiting
// on gate first.
type stubProcessor struct {
	gate chan struct{}
}

func (p *stubProcessor) Load(ctx context.Context) error { return nil }

func (p *stubProcessor) ProcessImage(ctx context.Context, path string) ([]types.FaceRecord, error) {
	if p.gate != nil {
		<-p.gate
	}
	v, _ := embedding.Normalize([]float32{1, 0, 0})
	return []types.FaceRecord{{Box: types.FaceBox{Width: 100, Height: 100, Confidence: 0.9}, Embedding: v}}, nil
}

type testEnv struct {
	srv     *Server
	store   *store.Memory
	indexer *pipeline.Indexer
	cluster *cluster.Engine
	bc      *events.Broadcaster
	proc    *stubProcessor
}

func newTestEnv(t *testing.T, photos int) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := store.NewMemory()
	for i := 0; i < photos; i++ {
		p := "/photos/" + string(rune('a'+i)) + ".jpg"
		s.RegisterFile(ctx, p, p)
	}
	bc := events.NewBroadcaster()
	proc := &stubProcessor{}
	ce := cluster.NewEngine(s)
	ix := pipeline.New(s, proc, ce, bc)

	srv := NewServer(ctx, ":0", Deps{Store: s, Indexer: ix, Clusterer: ce, Broadcaster: bc, Epsilon: cluster.DefaultEpsilon})
	return &testEnv{srv: srv, store: s, indexer: ix, cluster: ce, bc: bc, proc: proc}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestIndexLifecycle(t *testing.T) {
	env := newTestEnv(t, 3)
	env.proc.gate = make(chan struct{})

	rec := env.do(t, http.MethodPost, "/api/index", `{"cluster_epsilon": 0.3}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var started map[string]string
	json.Unmarshal(rec.Body.Bytes(), &started)
	if started["job_id"] == "" {
		t.Error("expected job_id in response")
	}

	// A second start while running conflicts, with or without a body.
	if rec := env.do(t, http.MethodPost, "/api/index", ""); rec.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/cluster", ""); rec.Code != http.StatusConflict {
		t.Errorf("expected status 409 for cluster during indexing, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/index/status", "")
	var st pipeline.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if !st.Running || st.JobID != started["job_id"] {
		t.Errorf("unexpected state %+v", st)
	}

	close(env.proc.gate)
	env.indexer.Wait()

	rec = env.do(t, http.MethodGet, "/api/persons", "")
	var persons []types.Person
	json.Unmarshal(rec.Body.Bytes(), &persons)
	if len(persons) != 1 || persons[0].FaceCount != 3 {
		t.Errorf("expected one person with 3 faces, got %+v", persons)
	}
}

func TestCancelIndex(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.do(t, http.MethodPost, "/api/index/cancel", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rec.Code)
	}
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t, 0)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed index body", http.MethodPost, "/api/index", "{", http.StatusBadRequest},
		{"malformed cluster body", http.MethodPost, "/api/cluster", "nope", http.StatusBadRequest},
		{"bad person id", http.MethodPut, "/api/persons/abc", `{"name":"x"}`, http.StatusBadRequest},
		{"empty name", http.MethodPut, "/api/persons/1", `{"name":"  "}`, http.StatusBadRequest},
		{"unknown person", http.MethodPut, "/api/persons/42", `{"name":"Grandma"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, tt.method, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRenamePerson(t *testing.T) {
	env := newTestEnv(t, 0)
	id, _ := env.store.CreatePerson(context.Background(), "Person 1")

	rec := env.do(t, http.MethodPut, "/api/persons/1", `{"name":"Grandma"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	persons, _ := env.store.ListPersons(context.Background())
	if len(persons) != 1 || persons[0].ID != id || persons[0].Name != "Grandma" {
		t.Errorf("unexpected persons %+v", persons)
	}
}

func TestStartCluster(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	f, _ := env.store.RegisterFile(ctx, "/photos/x.jpg", "")
	env.store.AddFace(ctx, f, "{}", []float32{1, 0})
	env.store.AddFace(ctx, f, "{}", []float32{1, 0.01})

	rec := env.do(t, http.MethodPost, "/api/cluster", `{"epsilon": 0.2}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := env.store.CountPersons(ctx); n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected clustering to create one person")
}

func TestStartClusterConflict(t *testing.T) {
	env := newTestEnv(t, 0)

	release, err := env.cluster.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if rec := env.do(t, http.MethodPost, "/api/cluster", ""); rec.Code != http.StatusConflict {
		t.Errorf("expected status 409 while clustering holds the gate, got %d", rec.Code)
	}
	release()

	rec := env.do(t, http.MethodPost, "/api/cluster", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 once the gate is free, got %d", rec.Code)
	}
	deadline := time.Now().Add(5 * time.Second)
	for env.cluster.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, 2)
	rec := env.do(t, http.MethodGet, "/api/stats", "")
	var got map[string]int
	json.Unmarshal(rec.Body.Bytes(), &got)
	if rec.Code != http.StatusOK || got["processed_count"] != 0 || got["person_count"] != 0 {
		t.Errorf("unexpected stats %d %v", rec.Code, got)
	}
}

func TestStreamEvents(t *testing.T) {
	env := newTestEnv(t, 0)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var typ, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("stream ended: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				typ = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return typ, data
			}
		}
	}

	if typ, _ := readEvent(); typ != "status" {
		t.Fatalf("expected initial status event, got %q", typ)
	}

	env.bc.Emit(events.Event{Type: events.TypeIndexProgress, Data: events.IndexProgress{Current: 4, Total: 9, Phase: events.PhaseIndexing}})
	typ, data := readEvent()
	if typ != events.TypeIndexProgress {
		t.Fatalf("expected progress event, got %q", typ)
	}
	var p events.IndexProgress
	if err := json.Unmarshal([]byte(data), &p); err != nil || p.Current != 4 || p.Total != 9 {
		t.Errorf("unexpected progress payload %q", data)
	}
}
