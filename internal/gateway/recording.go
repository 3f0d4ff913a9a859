package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/session"
)

// recordingManager tracks at most one active screen recording per
// session; frames land as files under recordings/{id}/, the store keeps
// metadata and start/stop events.
type recordingManager struct {
	mu     sync.Mutex
	active map[string]*model.Recording // keyed by session id
}

func newRecordingManager() *recordingManager {
	return &recordingManager{active: make(map[string]*model.Recording)}
}

type recordingStartParams struct {
	FPS     int     `json:"fps,omitempty"`
	Quality int     `json:"quality,omitempty"`
	DPR     float64 `json:"dpr,omitempty"`
}

func (m *recordingManager) start(sess *session.Session, p recordingStartParams) (*model.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.active[sess.ID()]; exists {
		return nil, fmt.Errorf("recording already active")
	}

	rec := &model.Recording{
		ID:        uuid.New().String(),
		SessionID: sess.ID(),
		FPS:       orDefault(p.FPS, 10),
		Quality:   orDefault(p.Quality, 80),
		DPR:       p.DPR,
		StartedAt: time.Now(),
		Status:    model.RecordingActive,
	}
	dir := filepath.Join(sess.Meta().StorageDir, "recordings", rec.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recording directory: %w", err)
	}
	if err := writeMetadata(dir, rec); err != nil {
		return nil, err
	}
	m.active[sess.ID()] = rec
	sess.Collectors.Sink.Emit(model.EventSnapshot, map[string]any{
		"action": "recording_start", "recording_id": rec.ID, "fps": rec.FPS,
	})
	return rec, nil
}

func (m *recordingManager) stop(sess *session.Session) (*model.Recording, error) {
	m.mu.Lock()
	rec, exists := m.active[sess.ID()]
	if exists {
		delete(m.active, sess.ID())
	}
	m.mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("no active recording")
	}

	now := time.Now()
	rec.EndedAt = &now
	rec.Status = model.RecordingComplete
	dir := filepath.Join(sess.Meta().StorageDir, "recordings", rec.ID)
	if err := writeMetadata(dir, rec); err != nil {
		return nil, err
	}
	sess.Collectors.Sink.Emit(model.EventSnapshot, map[string]any{
		"action": "recording_stop", "recording_id": rec.ID, "frame_count": rec.FrameCount,
	})
	return rec, nil
}

func (m *recordingManager) frame(sess *session.Session, data []byte) (int, error) {
	m.mu.Lock()
	rec, exists := m.active[sess.ID()]
	if !exists {
		m.mu.Unlock()
		return 0, fmt.Errorf("no active recording")
	}
	index := rec.FrameCount
	rec.FrameCount++
	m.mu.Unlock()

	dir := filepath.Join(sess.Meta().StorageDir, "recordings", rec.ID)
	path := filepath.Join(dir, fmt.Sprintf("frame_%d.jpg", index))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("writing frame: %w", err)
	}
	return index, nil
}

func writeMetadata(dir string, rec *model.Recording) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	var p recordingStartParams
	json.NewDecoder(r.Body).Decode(&p)
	rec, err := s.rec.start(sess, p)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	sess.Touch()
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	rec, err := s.rec.stop(sess)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	sess.Touch()
	writeJSON(w, http.StatusOK, rec)
}

type frameUpload struct {
	Data string `json:"data"`
}

func (s *Server) handleRecordingFrame(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	var up frameUpload
	if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
		writeError(w, http.StatusBadRequest, "invalid frame body")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(up.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "frame data is not base64")
		return
	}
	index, err := s.rec.frame(sess, raw)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"frame": index})
}
