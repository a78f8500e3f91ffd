// Package httpapi exposes the lock coordinator's LockStore over HTTP: one
// handler per route, registered on a chi router with request-logging and
// panic-recovery middleware.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lockcoord/lockd/internal/lockstore"
	"github.com/lockcoord/lockd/internal/log"
)

// Server wraps a LockStore with its HTTP surface.
type Server struct {
	store          *lockstore.Store
	metricsEnabled bool
}

// NewServer constructs a Server bound to store. metricsEnabled controls
// whether /metrics is registered.
func NewServer(store *lockstore.Store, metricsEnabled bool) *Server {
	return &Server{store: store, metricsEnabled: metricsEnabled}
}

// Handler builds the full chi router: request-ID/logging middleware plus
// every route, and /metrics when enabled.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(log.Middleware)

	r.Get("/health", s.handleHealth)
	r.Post("/lock", s.handleLock)
	r.Post("/unlock", s.handleUnlock)
	r.Post("/unlock-all", s.handleUnlockAll)
	r.Get("/status", s.handleStatus)
	r.Get("/locks", s.handleLocks)
	r.Get("/queues", s.handleQueues)
	r.Get("/queue/*", s.handleQueueByPath)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}
