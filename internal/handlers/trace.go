package handlers

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/localcdp/browserd/internal/collectors"
	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// TraceParams trace a page load end to end.
type TraceParams struct {
	URL     string `json:"url"`
	Out     string `json:"out,omitempty"`
	WaitFor string `json:"wait_for,omitempty"`
}

// TraceResult reports the written trace artifact.
type TraceResult struct {
	TraceID    string `json:"trace_id"`
	Path       string `json:"path"`
	EventCount int    `json:"event_count"`
}

// Trace starts a CDP trace, navigates, awaits load, stops the trace, and
// moves the artifact to the requested output path. Tracing is
// process-global, so the whole sequence holds the session's busy lock.
func (h *H) Trace(ctx context.Context, s *session.Session, p TraceParams) (*TraceResult, error) {
	if p.URL == "" {
		return nil, rpcerr.New(rpcerr.InvalidParams, "url is required")
	}
	waitFor := p.WaitFor
	if waitFor == "" {
		waitFor = "load"
	}

	var result *TraceResult
	err := s.WithExclusive(func() error {
		traceID := uuid.New().String()
		path := collectors.TracePath(s.Meta().StorageDir, traceID)

		if err := s.Collectors.Trace.Start(ctx, traceID, path, h.Cfg.Performance.TraceCategories); err != nil {
			return err
		}

		if _, err := s.CallPage(ctx, "Page.navigate", map[string]any{"url": p.URL}); err != nil {
			s.Collectors.Trace.End(ctx)
			return err
		}
		if err := h.awaitCondition(ctx, s, waitFor); err != nil {
			s.Collectors.Trace.End(ctx)
			return err
		}
		s.BumpGeneration()

		tr, err := s.Collectors.Trace.End(ctx)
		if err != nil {
			return err
		}

		out := p.Out
		if out == "" {
			out = path
		} else if out != path {
			if err := moveFile(path, out); err != nil {
				return rpcerr.Wrap(rpcerr.StorageUnavailable, err, "moving trace to %s", out)
			}
		}
		result = &TraceResult{TraceID: tr.ID, Path: out, EventCount: tr.EventCount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Touch()
	return result, nil
}

// TraceStatus reports whether a trace is active on the session's browser.
func (h *H) TraceStatus(s *session.Session) map[string]any {
	return map[string]any{
		"active": s.Collectors.Trace.Active(),
	}
}

// TraceStart begins a long-running trace controlled by the extension.
func (h *H) TraceStart(ctx context.Context, s *session.Session) (*model.Trace, error) {
	traceID := uuid.New().String()
	path := collectors.TracePath(s.Meta().StorageDir, traceID)
	if err := s.Collectors.Trace.Start(ctx, traceID, path, h.Cfg.Performance.TraceCategories); err != nil {
		return nil, err
	}
	s.Touch()
	return &model.Trace{ID: traceID, SessionID: s.ID(), Status: model.TraceActive, Path: path}, nil
}

// TraceStop ends a long-running trace.
func (h *H) TraceStop(ctx context.Context, s *session.Session) (*model.Trace, error) {
	tr, err := s.Collectors.Trace.End(ctx)
	if err != nil {
		return nil, err
	}
	tr.SessionID = s.ID()
	s.Touch()
	return tr, nil
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
