// Package admin serves health, readiness, metrics and store administration
// on a listener separate from the content traffic.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"davhost/internal/maintenance"
	"davhost/pkg/identity"
	"davhost/pkg/logger"
	"davhost/pkg/store"
)

// Maintainer is the part of maintenance.Runner the admin surface drives.
type Maintainer interface {
	RunOnce(ctx context.Context) error
	Status() maintenance.Status
}

// Deps are the components exposed by the admin routes. Metrics and
// Maintenance may be nil.
type Deps struct {
	Store       store.Store
	Identity    identity.Identity
	Metrics     http.Handler
	Maintenance Maintainer
}

// Server is the admin HTTP server.
type Server struct {
	deps   Deps
	log    *slog.Logger
	router *mux.Router
	srv    *http.Server
}

// New builds the router for addr. Call Serve or Run to start it.
func New(addr string, deps Deps, l *slog.Logger) *Server {
	s := &Server{deps: deps, log: logger.OrDefault(l), router: mux.NewRouter()}
	s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}
	sub := s.router.PathPrefix("/admin").Subrouter()
	sub.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	sub.HandleFunc("/compact", s.compact).Methods(http.MethodPost)
	s.log.Info("admin_routes_registered")
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("admin_listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "admin serve")
	}
	return nil
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.Wrapf(err, "admin listen %s", s.srv.Addr)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Store == nil || !s.deps.Store.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	// include the running version to help ops verify what binary is active
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.deps.Identity.Version})
}

type statsResponse struct {
	Server      string              `json:"server"`
	Version     string              `json:"version"`
	Store       store.Stats         `json:"store"`
	Disk        string              `json:"disk"`
	Maintenance *maintenance.Status `json:"maintenance,omitempty"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		s.log.Error("admin_stats_failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	out := statsResponse{
		Server:  s.deps.Identity.Server(),
		Version: s.deps.Identity.String(),
		Store:   st,
		Disk:    humanize.IBytes(st.DiskBytes),
	}
	if s.deps.Maintenance != nil {
		ms := s.deps.Maintenance.Status()
		out.Maintenance = &ms
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) compact(w http.ResponseWriter, r *http.Request) {
	if s.deps.Maintenance == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "maintenance not configured"})
		return
	}
	err := s.deps.Maintenance.RunOnce(r.Context())
	switch {
	case errors.Is(err, maintenance.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		s.log.Error("admin_compact_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, s.deps.Maintenance.Status())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
