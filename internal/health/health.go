// Package health serves the daemon's liveness and readiness endpoints.
//
// /healthz answers 200 while the process is serving. /readyz answers 200
// only after SetReady(true) and while every registered check passes; the
// body names each failing check.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fuangela/AutoDrone/internal/scene"
)

// Check reports nil when a dependency is healthy.
type Check func(ctx context.Context) error

// Server is a lightweight HTTP server that exposes /healthz and /readyz.
type Server struct {
	port   int
	ready  atomic.Bool
	server *http.Server

	mu     sync.RWMutex
	checks map[string]Check
}

// New creates a new health check server.
func New(port int) *Server {
	return &Server{port: port, checks: make(map[string]Check)}
}

// SetReady marks the daemon as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// AddCheck registers a readiness check. A later check with the same name
// replaces the earlier one.
func (s *Server) AddCheck(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Ready runs every check and returns the failures by name.
func (s *Server) Ready(ctx context.Context) (bool, map[string]string) {
	if !s.ready.Load() {
		return false, nil
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for n := range s.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	checks := make([]Check, len(names))
	for i, n := range names {
		checks[i] = s.checks[n]
	}
	s.mu.RUnlock()

	results := make(map[string]string, len(names))
	ok := true
	for i, c := range checks {
		if err := c(ctx); err != nil {
			results[names[i]] = err.Error()
			ok = false
			continue
		}
		results[names[i]] = "ok"
	}
	return ok, results
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, readiness{Status: "ok"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		ok, results := s.Ready(ctx)
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, readiness{Status: "not_ready", Checks: results})
			return
		}
		writeJSON(w, http.StatusOK, readiness{Status: "ok", Checks: results})
	})
	return mux
}

// ListenAndServe starts the health check HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("health server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// SceneFresh fails while the latest snapshot is missing or older than maxAge.
func SceneFresh(src interface{ Load() *scene.Snapshot }, maxAge time.Duration, now func() time.Time) Check {
	if now == nil {
		now = time.Now
	}
	return func(context.Context) error {
		snap := src.Load()
		if snap.IsEmpty() {
			return errors.New("no perception results yet")
		}
		if age := snap.Age(now()); age > maxAge {
			return fmt.Errorf("scene is %s old (limit %s)", age.Round(time.Millisecond), maxAge)
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
