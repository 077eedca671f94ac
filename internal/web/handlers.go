package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/andresmejia3/facesift/internal/cluster"
	"github.com/andresmejia3/facesift/internal/events"
	"github.com/andresmejia3/facesift/internal/pipeline"
	"github.com/andresmejia3/facesift/internal/store"
	"github.com/go-chi/chi/v5"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	persons, err := s.store.CountPersons(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"processed_count": st.ProcessedCount,
		"face_count":      st.FaceCount,
		"person_count":    persons,
	})
}

type indexRequest struct {
	ClusterEpsilon float32 `json:"cluster_epsilon"`
}

func (s *Server) startIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	eps := req.ClusterEpsilon
	if eps <= 0 {
		eps = s.epsilon
	}

	jobID, err := s.indexer.Start(s.ctx, eps)
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) cancelIndex(w http.ResponseWriter, r *http.Request) {
	s.indexer.RequestCancel()
	respondJSON(w, http.StatusAccepted, map[string]bool{"running": s.indexer.IsRunning()})
}

func (s *Server) indexStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.indexer.State())
}

type clusterRequest struct {
	Epsilon float32 `json:"epsilon"`
}

// startCluster re-clusters the library in the background.
func (s *Server) startCluster(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	eps := req.Epsilon
	if eps <= 0 {
		eps = s.epsilon
	}

	// The indexing job ends with its own clustering pass.
	if s.indexer.IsRunning() {
		respondError(w, http.StatusConflict, cluster.ErrAlreadyRunning.Error())
		return
	}
	release, err := s.clusterer.Begin()
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	go func() {
		defer release()
		_, err := s.clusterer.RunHeld(s.ctx, eps, func(p events.ClusterProgress) {
			s.broadcaster.Emit(events.Event{Type: events.TypeClusterProgress, Data: p})
		}, nil)
		if err != nil {
			slog.Error("clustering failed", "error", err)
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]float32{"epsilon": eps})
}

func (s *Server) listPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := s.store.ListPersons(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, persons)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) renamePerson(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid person ID")
		return
	}
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	err = s.store.RenamePerson(r.Context(), id, strings.TrimSpace(req.Name))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamEvents forwards broadcaster events to the client until it goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	sendSSEEvent(w, flusher, "status", s.indexer.State())

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, e.Type, e.Data)
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(jsonData)
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
