package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tmusync/internal/config"
	appLog "tmusync/internal/log"
	"tmusync/internal/storage"
)

// Refresher is satisfied by *refresh.Service.
type Refresher interface {
	Refresh(ctx context.Context) (*storage.Snapshot, error)
	Latest(ctx context.Context) (*storage.Snapshot, error)
}

// refreshNotifier is implemented by refreshers that also run refreshes on
// their own schedule.
type refreshNotifier interface {
	OnRefresh(fn func(*storage.Snapshot))
}

// Server provides the HTTP API over stored refresh snapshots.
type Server struct {
	cfg       *config.Config
	refresher Refresher
	mux       *chi.Mux

	// In-memory copy of the latest snapshot so /api/schedule does not hit
	// SQLite on every request. Replaced after API refreshes and after
	// scheduled ones the refresher announces; re-read once older than
	// scheduleCacheTTL.
	scheduleMu    sync.RWMutex
	scheduleCache *scheduleCache
}

// scheduleCache holds the last served snapshot and when it was read.
type scheduleCache struct {
	snap      *storage.Snapshot
	updatedAt time.Time
}

const scheduleCacheTTL = 30 * time.Second

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, refresher Refresher) *Server {
	s := &Server{
		cfg:       cfg,
		refresher: refresher,
		mux:       chi.NewRouter(),
	}
	if n, ok := refresher.(refreshNotifier); ok {
		n.OnRefresh(s.setCache)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(accessLog)

	s.mux.Get("/health", s.handleHealth)

	s.mux.Route("/api", func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
			r.Use(s.basicAuthMiddleware)
		}
		r.Get("/schedule", s.handleSchedule)
		r.Get("/failures", s.handleFailures)
		r.Post("/refresh", s.handleRefresh)
	})
}

// accessLog logs one line per request at debug level.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"dur_ms", time.Since(start).Milliseconds(),
		)
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards the /api routes; /health stays open.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="tmusync", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) latest(ctx context.Context) (*storage.Snapshot, error) {
	now := time.Now()

	s.scheduleMu.RLock()
	sc := s.scheduleCache
	s.scheduleMu.RUnlock()
	if sc != nil && now.Sub(sc.updatedAt) < scheduleCacheTTL {
		return sc.snap, nil
	}

	snap, err := s.refresher.Latest(ctx)
	if err != nil {
		return nil, err
	}

	s.scheduleMu.Lock()
	s.scheduleCache = &scheduleCache{snap: snap, updatedAt: now}
	s.scheduleMu.Unlock()
	return snap, nil
}

// setCache makes snap the served snapshot.
func (s *Server) setCache(snap *storage.Snapshot) {
	s.scheduleMu.Lock()
	s.scheduleCache = &scheduleCache{snap: snap, updatedAt: time.Now()}
	s.scheduleMu.Unlock()
}

// handleSchedule returns the latest refresh result as stored.
//
// GET /api/schedule
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	snap, err := s.latest(r.Context())
	if errors.Is(err, storage.ErrNoSnapshot) {
		writeError(w, http.StatusNotFound, "no refresh has completed yet")
		return
	}
	if err != nil {
		appLog.Error("api schedule: load snapshot failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Snapshot-Id", strconv.FormatInt(snap.ID, 10))
	w.Header().Set("Last-Modified", snap.TakenAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.Payload)
}

// failureDTO is the JSON view of one feed failure.
type failureDTO struct {
	FeedID string `json:"feed_id"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

// handleFailures lists the feeds that failed in the latest refresh.
func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	snap, err := s.latest(r.Context())
	if errors.Is(err, storage.ErrNoSnapshot) {
		writeJSON(w, http.StatusOK, []failureDTO{})
		return
	}
	if err != nil {
		appLog.Error("api failures: load snapshot failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load failures")
		return
	}
	out := make([]failureDTO, 0, len(snap.Failures))
	for _, f := range snap.Failures {
		out = append(out, failureDTO(f))
	}
	writeJSON(w, http.StatusOK, out)
}

// refreshResponse summarizes a completed refresh.
type refreshResponse struct {
	SnapshotID  int64     `json:"snapshot_id"`
	TakenAt     time.Time `json:"taken_at"`
	Assignments int       `json:"assignments"`
	Classes     int       `json:"classes"`
	Sessions    int       `json:"sessions"`
	Failures    int       `json:"failures"`
}

// handleRefresh runs a refresh now and reports its counts.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	appLog.Info("api refresh request")

	snap, err := s.refresher.Refresh(r.Context())
	if err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	s.setCache(snap)

	writeJSON(w, http.StatusOK, refreshResponse{
		SnapshotID:  snap.ID,
		TakenAt:     snap.TakenAt,
		Assignments: snap.Assignments,
		Classes:     snap.Classes,
		Sessions:    snap.Sessions,
		Failures:    len(snap.Failures),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
