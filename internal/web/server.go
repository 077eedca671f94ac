// Package web exposes indexing, clustering and the person list over HTTP,
// with live job events streamed as server-sent events.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/andresmejia3/facesift/internal/cluster"
	"github.com/andresmejia3/facesift/internal/events"
	"github.com/andresmejia3/facesift/internal/pipeline"
	"github.com/andresmejia3/facesift/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP surface of facesift.
type Server struct {
	ctx         context.Context
	router      *chi.Mux
	httpServer  *http.Server
	store       store.Store
	indexer     *pipeline.Indexer
	clusterer   *cluster.Engine
	broadcaster *events.Broadcaster
	epsilon     float32
}

// Deps are the components the server drives.
type Deps struct {
	Store       store.Store
	Indexer     *pipeline.Indexer
	Clusterer   *cluster.Engine
	Broadcaster *events.Broadcaster
	// Epsilon is used when a request does not name one.
	Epsilon float32
}

// NewServer creates a server listening on addr. Jobs started through the API
// run under ctx, so they survive the request that started them.
func NewServer(ctx context.Context, addr string, d Deps) *Server {
	r := chi.NewRouter()
	s := &Server{
		ctx:         ctx,
		router:      r,
		store:       d.Store,
		indexer:     d.Indexer,
		clusterer:   d.Clusterer,
		broadcaster: d.Broadcaster,
		epsilon:     d.Epsilon,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Start serves until the server is shut down.
func (s *Server) Start() error {
	slog.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/stats", s.stats)

		r.Post("/index", s.startIndex)
		r.Post("/index/cancel", s.cancelIndex)
		r.Get("/index/status", s.indexStatus)
		r.Get("/events", s.streamEvents)

		r.Post("/cluster", s.startCluster)

		r.Get("/persons", s.listPersons)
		r.Put("/persons/{id}", s.renamePerson)
	})
}
