// Package events carries fire-and-forget progress notifications from the
// indexing and clustering jobs to whoever is listening.
package events

import "sync"

// Event types.
const (
	TypeIndexProgress   = "face_index_progress"
	TypeClusterProgress = "cluster_progress"
	TypeIndexFinished   = "face_index_finished"
)

// Indexing phases.
const (
	PhaseIndexing   = "indexing"
	PhaseClustering = "clustering"
)

// ListenerBuffer is the channel capacity given to each subscriber.
const ListenerBuffer = 64

// IndexProgress reports how far the indexing job has come.
type IndexProgress struct {
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	FacesFound int    `json:"faces_found"`
	Phase      string `json:"phase"`
}

// ClusterProgress reports the clustering phase.
type ClusterProgress struct {
	Phase   string `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// IndexFinished is the terminal event of an indexing job.
type IndexFinished struct {
	JobID        string `json:"job_id,omitempty"`
	TotalFaces   int    `json:"total_faces"`
	TotalPersons int    `json:"total_persons"`
	Cancelled    bool   `json:"cancelled"`
	Error        string `json:"error,omitempty"`
}

// Event is one notification. Data holds one of the payload types above.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Sink receives events. Emit must not block for long; delivery is best-effort.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Broadcaster fans events out to any number of subscribers.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []chan Event
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe adds a listener.
func (b *Broadcaster) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, ListenerBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Emit sends the event to all listeners.
func (b *Broadcaster) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- e:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Multi emits every event to each of sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Emit(e)
		}
	})
}
