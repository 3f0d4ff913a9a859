package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localcdp/browserd/internal/config"
	"github.com/localcdp/browserd/internal/handlers"
	"github.com/localcdp/browserd/internal/session"
)

func newTestGateway(t *testing.T) *Server {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Server.SocketPath = filepath.Join(base, "browserd.sock")
	pool, err := session.NewPool(cfg, filepath.Join(base, "sessions"))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewServer(cfg, pool, handlers.New(cfg))
}

func TestHealthEndpoint(t *testing.T) {
	gw := newTestGateway(t)
	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	gw.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["ok"])
}

func TestSessionEndpointWithoutSessions(t *testing.T) {
	gw := newTestGateway(t)
	req := httptest.NewRequest("GET", "/api/session", nil)
	rec := httptest.NewRecorder()
	gw.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsUnknownSessionIs404(t *testing.T) {
	gw := newTestGateway(t)
	body, _ := json.Marshal(map[string]any{"type": "click", "data": map[string]any{"css": "#a"}})
	req := httptest.NewRequest("POST", "/api/events?session_id=unknown", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	gw.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsRequireSessionID(t *testing.T) {
	gw := newTestGateway(t)
	req := httptest.NewRequest("POST", "/api/events", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	gw.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordingEndpointsUnknownSession(t *testing.T) {
	gw := newTestGateway(t)
	for _, path := range []string{"/api/recording/start", "/api/recording/stop", "/api/recording/frame"} {
		req := httptest.NewRequest("POST", path+"?session_id=unknown", bytes.NewReader([]byte("{}")))
		rec := httptest.NewRecorder()
		gw.Routes().ServeHTTP(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestTraceStatusUnknownSession(t *testing.T) {
	gw := newTestGateway(t)
	req := httptest.NewRequest("GET", "/api/trace/status?session_id=unknown", nil)
	rec := httptest.NewRecorder()
	gw.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartBindsPortInRange(t *testing.T) {
	gw := newTestGateway(t)
	require.NoError(t, gw.Start())
	require.GreaterOrEqual(t, gw.Port, gw.cfg.Server.HTTPPortRange.Start)
	require.LessOrEqual(t, gw.Port, gw.cfg.Server.HTTPPortRange.End)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/health", gw.Port))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))
}
