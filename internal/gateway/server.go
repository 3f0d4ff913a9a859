// Package gateway is the loopback HTTP+WebSocket surface the browser
// extension talks to: event ingest, screenshots, screen-recording and
// trace control.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/localcdp/browserd/internal/config"
	"github.com/localcdp/browserd/internal/handlers"
	"github.com/localcdp/browserd/internal/logging"
	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/ratelimit"
	"github.com/localcdp/browserd/internal/session"
)

// Server is the extension gateway.
type Server struct {
	cfg     *config.Config
	pool    *session.Pool
	h       *handlers.H
	limiter *ratelimit.Limiter
	rec     *recordingManager
	log     *logging.Logger

	httpSrv *http.Server
	Port    int

	wsMu      sync.Mutex
	wsClients map[*wsClient]struct{}
}

func NewServer(cfg *config.Config, pool *session.Pool, h *handlers.H) *Server {
	return &Server{
		cfg:       cfg,
		pool:      pool,
		h:         h,
		limiter:   ratelimit.NewLimiter(200, 500),
		rec:       newRecordingManager(),
		log:       logging.New("gateway"),
		wsClients: make(map[*wsClient]struct{}),
	}
}

// Routes configures the gateway's endpoints.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/session", s.handleSession).Methods("GET")
	api.HandleFunc("/events", s.handleEvents).Methods("POST")
	api.HandleFunc("/screenshots", s.handleScreenshots).Methods("POST")
	api.HandleFunc("/recording/start", s.handleRecordingStart).Methods("POST")
	api.HandleFunc("/recording/stop", s.handleRecordingStop).Methods("POST")
	api.HandleFunc("/recording/frame", s.handleRecordingFrame).Methods("POST")
	api.HandleFunc("/trace/start", s.handleTraceStart).Methods("POST")
	api.HandleFunc("/trace/stop", s.handleTraceStop).Methods("POST")
	api.HandleFunc("/trace/status", s.handleTraceStatus).Methods("GET")

	r.HandleFunc("/ws", s.handleWS).Methods("GET")
	return r
}

// Start binds the first free loopback port in the configured HTTP range.
func (s *Server) Start() error {
	pr := s.cfg.Server.HTTPPortRange
	var ln net.Listener
	var err error
	for port := pr.Start; port <= pr.End; port++ {
		ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			s.Port = port
			break
		}
	}
	if ln == nil {
		return fmt.Errorf("no free gateway port in range %d-%d: %w", pr.Start, pr.End, err)
	}

	s.httpSrv = &http.Server{
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Printf("gateway serve error: %v", err)
		}
	}()
	s.log.Printf("listening on http://127.0.0.1:%d", s.Port)
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// lookupSession authenticates the caller by session id; unknown → 404.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) *session.Session {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		id = r.Header.Get("X-Session-ID")
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return nil
	}
	sess := s.pool.Lookup(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil
	}
	return sess
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": "browserd"})
}

// handleSession returns the active-or-sole session id so the extension
// can bind itself without configuration.
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	var best *model.Session
	for _, m := range s.pool.List() {
		m := m
		if m.Status != model.StatusActive && m.Status != model.StatusBusy {
			continue
		}
		if best == nil || m.LastActivityAt.After(best.LastActivityAt) {
			best = &m
		}
	}
	if best == nil {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": best.ID})
}

// extensionEvent is the POST /api/events body.
type extensionEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	if !s.limiter.Allow(sess.ID()) {
		writeError(w, http.StatusTooManyRequests, "event rate limit exceeded")
		return
	}
	var ev extensionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}
	sess.Collectors.Extension.Ingest(ev.Type, ev.Data)
	sess.Touch()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// screenshotUpload is the POST /api/screenshots body.
type screenshotUpload struct {
	Data   string `json:"data"`
	Format string `json:"format,omitempty"`
}

func (s *Server) handleScreenshots(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	var up screenshotUpload
	if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
		writeError(w, http.StatusBadRequest, "invalid screenshot body")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(up.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "screenshot data is not base64")
		return
	}
	format := up.Format
	if format == "" {
		format = "png"
	}
	dir := filepath.Join(sess.Meta().StorageDir, "screenshots")
	path := filepath.Join(dir, fmt.Sprintf("ext_%d.%s", time.Now().UnixMilli(), format))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, "writing screenshot failed")
		return
	}
	sess.Collectors.Sink.Emit(model.EventScreenshot, map[string]any{
		"path": path, "format": format, "size": len(raw), "source": "extension",
	})
	sess.Touch()
	writeJSON(w, http.StatusCreated, map[string]any{"path": path})
}

func (s *Server) handleTraceStart(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	tr, err := s.h.TraceStart(r.Context(), sess)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleTraceStop(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	tr, err := s.h.TraceStop(r.Context(), sess)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleTraceStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.h.TraceStatus(sess))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": map[string]any{"message": msg}})
}
