package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"coachcal/internal/calsync"
	"coachcal/internal/config"
	appLog "coachcal/internal/log"
	"coachcal/internal/runner"
)

// Syncer is what the API drives; *runner.Runner satisfies it.
type Syncer interface {
	Status() runner.Status
	RunOnce(ctx context.Context, reason string) (calsync.Summary, error)
	SyncSession(ctx context.Context, id string) (calsync.Summary, error)
	Clear(ctx context.Context) (calsync.Summary, error)
}

// StateView reports the persisted sync settings.
type StateView interface {
	Enabled() bool
	ContainerID() string
	LastSync() time.Time
}

// Server provides the HTTP control API.
type Server struct {
	cfg    *config.Config
	syncer Syncer
	state  StateView
	access func() calsync.AccessState
	mux    *http.ServeMux
}

// NewServer constructs a new Server. access may be nil.
func NewServer(cfg *config.Config, syncer Syncer, state StateView, access func() calsync.AccessState) *Server {
	s := &Server{
		cfg:    cfg,
		syncer: syncer,
		state:  state,
		access: access,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="coachcal", charset="UTF-8"`)
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

// Run serves until ctx is canceled, then shuts down gracefully.
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
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/sync", s.handleSync)
	s.mux.HandleFunc("POST /api/sessions/{id}/sync", s.handleSyncSession)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Enabled     bool          `json:"enabled"`
	Access      string        `json:"access"`
	ContainerID string        `json:"container_id,omitempty"`
	LastSync    *time.Time    `json:"last_sync,omitempty"`
	Runner      runner.Status `json:"runner"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Enabled:     s.state.Enabled(),
		ContainerID: s.state.ContainerID(),
		Runner:      s.syncer.Status(),
		Access:      calsync.AccessNotRequested.String(),
	}
	if s.access != nil {
		resp.Access = s.access().String()
	}
	if ts := s.state.LastSync(); !ts.IsZero() {
		resp.LastSync = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}

// summaryDTO is a JSON-friendly view of a pass summary.
type summaryDTO struct {
	ContainerID  string    `json:"container_id"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Unchanged    int       `json:"unchanged"`
	Removed      int       `json:"removed"`
	Skipped      int       `json:"skipped"`
	SoftFailures int       `json:"soft_failures"`
	CompletedAt  time.Time `json:"completed_at"`
}

func toDTO(sum calsync.Summary) summaryDTO {
	return summaryDTO{
		ContainerID:  sum.ContainerID,
		Created:      sum.Created,
		Updated:      sum.Updated,
		Unchanged:    sum.Unchanged,
		Removed:      sum.Removed,
		Skipped:      sum.Skipped,
		SoftFailures: sum.SoftFailures,
		CompletedAt:  sum.CompletedAt,
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	sum, err := s.syncer.RunOnce(r.Context(), "api")
	s.writeResult(w, sum, err)
}

func (s *Server) handleSyncSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	sum, err := s.syncer.SyncSession(r.Context(), id)
	s.writeResult(w, sum, err)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sum, err := s.syncer.Clear(r.Context())
	s.writeResult(w, sum, err)
}

func (s *Server) writeResult(w http.ResponseWriter, sum calsync.Summary, err error) {
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toDTO(sum))
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, calsync.ErrAccessDenied), errors.Is(err, calsync.ErrAccessRestricted):
		return http.StatusForbidden
	case errors.Is(err, calsync.ErrSyncDisabled):
		return http.StatusConflict
	case errors.Is(err, runner.ErrSessionNotFound), errors.Is(err, calsync.ErrContainerNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
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
