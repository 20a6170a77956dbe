package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachcal/internal/calsync"
	"coachcal/internal/config"
	"coachcal/internal/runner"
)

type fakeSyncer struct {
	err      error
	sessions []string
	clears   int
}

func (f *fakeSyncer) Status() runner.Status { return runner.Status{Passes: 3, LastReason: "cron"} }

func (f *fakeSyncer) RunOnce(context.Context, string) (calsync.Summary, error) {
	return calsync.Summary{ContainerID: "cal", Created: 2}, f.err
}

func (f *fakeSyncer) SyncSession(_ context.Context, id string) (calsync.Summary, error) {
	f.sessions = append(f.sessions, id)
	return calsync.Summary{Updated: 1}, f.err
}

func (f *fakeSyncer) Clear(context.Context) (calsync.Summary, error) {
	f.clears++
	return calsync.Summary{Removed: 4}, f.err
}

type fakeState struct{}

func (fakeState) Enabled() bool       { return true }
func (fakeState) ContainerID() string { return "cal" }
func (fakeState) LastSync() time.Time { return time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC) }

func newTestServer(cfg *config.Config, syncer *fakeSyncer) http.Handler {
	access := func() calsync.AccessState { return calsync.AccessAuthorized }
	return NewServer(cfg, syncer, fakeState{}, access).Handler()
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(config.DefaultConfig(), &fakeSyncer{}), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatus(t *testing.T) {
	rec := do(t, newTestServer(config.DefaultConfig(), &fakeSyncer{}), http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Enabled)
	assert.Equal(t, "authorized", body.Access)
	assert.Equal(t, "cal", body.ContainerID)
	require.NotNil(t, body.LastSync)
	assert.Equal(t, 3, body.Runner.Passes)
}

func TestSyncEndpoints(t *testing.T) {
	syncer := &fakeSyncer{}
	h := newTestServer(config.DefaultConfig(), syncer)

	rec := do(t, h, http.MethodPost, "/api/sync")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum summaryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.Created)

	rec = do(t, h, http.MethodPost, "/api/sessions/s1/sync")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"s1"}, syncer.sessions)

	rec = do(t, h, http.MethodPost, "/api/clear")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, syncer.clears)

	rec = do(t, h, http.MethodGet, "/api/sync")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSyncErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{calsync.ErrAccessDenied, http.StatusForbidden},
		{calsync.ErrAccessRestricted, http.StatusForbidden},
		{calsync.ErrSyncDisabled, http.StatusConflict},
		{fmt.Errorf("%w: x", runner.ErrSessionNotFound), http.StatusNotFound},
		{calsync.ErrContainerNotFound, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{calsync.ErrCommitFailed, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := do(t, newTestServer(config.DefaultConfig(), &fakeSyncer{err: tc.err}), http.MethodPost, "/api/sync")
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "coach", Password: "secret"}
	h := newTestServer(cfg, &fakeSyncer{})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("coach", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Empty credentials leave auth disabled.
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "coach"}
	assert.Equal(t, http.StatusOK, do(t, newTestServer(cfg, &fakeSyncer{}), http.MethodGet, "/api/status").Code)
}
