package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/localcdp/browserd/internal/config"
	"github.com/localcdp/browserd/internal/export"
	"github.com/localcdp/browserd/internal/handlers"
	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// Version is the daemon build version, stamped at link time.
var Version = "dev"

// commonParams are accepted by every method that targets a session.
type commonParams struct {
	SessionID   string `json:"session_id,omitempty"`
	UserProfile bool   `json:"user_profile,omitempty"`
	Headless    *bool  `json:"headless,omitempty"`
	TimeoutMs   int    `json:"timeout_ms,omitempty"`
}

// Dispatcher routes requests to handlers: session selection, parameter
// decoding, deadlines, and error translation.
type Dispatcher struct {
	cfg  *config.Config
	pool *session.Pool
	h    *handlers.H
}

func NewDispatcher(cfg *config.Config, pool *session.Pool, h *handlers.H) *Dispatcher {
	return &Dispatcher{cfg: cfg, pool: pool, h: h}
}

const defaultDeadline = 30 * time.Second

// Dispatch runs one request to completion and returns its response.
// Every handler returns within its deadline; past it the outstanding CDP
// calls are abandoned and the caller sees Timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	var common commonParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &common); err != nil {
			return errorResponse(req.ID, rpcerr.New(rpcerr.InvalidParams, "malformed params"))
		}
	}

	deadline := defaultDeadline
	if common.TimeoutMs > 0 {
		deadline = time.Duration(common.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, err := d.route(ctx, req, common)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			if _, typed := rpcerr.As(err); !typed {
				err = rpcerr.New(rpcerr.Timeout, "%s exceeded its %s deadline", req.Method, deadline)
			}
		}
		return errorResponse(req.ID, err)
	}
	return successResponse(req.ID, result)
}

func (d *Dispatcher) route(ctx context.Context, req Request, common commonParams) (any, error) {
	switch req.Method {
	case "server.info":
		return d.serverInfo(), nil
	case "session.list":
		return d.pool.List(), nil
	case "session.info":
		return d.sessionInfo(common)
	case "session.destroy":
		return d.sessionDestroy(common)
	case "session.export":
		return d.sessionExport(req.Params, common)
	case "analyze":
		var p handlers.AnalyzeParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.Analyze(p)
	case "devices":
		return d.h.Devices(), nil
	}

	// Everything else targets a session; reject unknown methods before
	// acquiring one.
	if !sessionMethods[req.Method] {
		return nil, rpcerr.New(rpcerr.MethodNotFound, "unknown method %q", req.Method)
	}
	s, err := d.selectSession(ctx, common, req.Method)
	if err != nil {
		return nil, err
	}

	switch req.Method {
	case "navigate":
		var p handlers.NavigateParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.Navigate(ctx, s, p)
	case "reload":
		return d.h.Reload(ctx, s)
	case "click":
		var p handlers.ClickParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult(d.h.Click(ctx, s, p))
	case "hover":
		var t handlers.Target
		if err := decode(req.Params, &t); err != nil {
			return nil, err
		}
		return okResult(d.h.Hover(ctx, s, t))
	case "scroll":
		var p handlers.ScrollParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult(d.h.Scroll(ctx, s, p))
	case "fill":
		var p handlers.FillParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult(d.h.Fill(ctx, s, p))
	case "type":
		var p handlers.TypeParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult(d.h.Type(ctx, s, p))
	case "select":
		var p handlers.SelectParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult(d.h.Select(ctx, s, p))
	case "press":
		var p handlers.PressParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult(d.h.Press(ctx, s, p))
	case "screenshot":
		var p handlers.ScreenshotParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.Screenshot(ctx, s, p)
	case "describe":
		var p handlers.DescribeParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.Describe(ctx, s, p)
	case "a11y":
		var p handlers.A11yParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.A11y(ctx, s, p)
	case "wait":
		var p handlers.WaitParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult(d.h.Wait(ctx, s, p))
	case "emulate":
		var p handlers.EmulateParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.Emulate(ctx, s, p)
	case "trace":
		var p handlers.TraceParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.Trace(ctx, s, p)
	case "trace.start":
		return d.h.TraceStart(ctx, s)
	case "trace.stop":
		return d.h.TraceStop(ctx, s)
	case "trace.status":
		return d.h.TraceStatus(s), nil
	case "history.events":
		var p handlers.HistoryParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.HistoryEvents(ctx, s, p)
	case "history.network":
		var p handlers.HistoryParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.HistoryNetwork(ctx, s, p)
	case "history.console":
		var p handlers.HistoryParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.HistoryConsole(ctx, s, p)
	case "history.count":
		var p handlers.HistoryParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		n, err := d.h.HistoryCount(ctx, s, p)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": n}, nil
	case "history.export":
		var p handlers.ExportParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return d.h.Export(ctx, s, p)
	default:
		return nil, rpcerr.New(rpcerr.MethodNotFound, "unknown method %q", req.Method)
	}
}

// sessionMethods enumerate every method that targets a session.
var sessionMethods = map[string]bool{
	"navigate": true, "reload": true, "click": true, "hover": true,
	"scroll": true, "fill": true, "type": true, "select": true,
	"press": true, "screenshot": true, "describe": true, "a11y": true,
	"wait": true, "emulate": true, "trace": true, "trace.start": true,
	"trace.stop": true, "trace.status": true, "history.events": true,
	"history.network": true, "history.console": true, "history.count": true,
	"history.export": true,
}

// historyMethods may run against a detached session: the store outlives
// the browser.
var historyMethods = map[string]bool{
	"history.events": true, "history.network": true, "history.console": true,
	"history.count": true, "history.export": true,
}

// selectSession applies the session-selection rules: explicit id first,
// then the sole user-profile session, else an ephemeral acquire.
func (d *Dispatcher) selectSession(ctx context.Context, common commonParams, method string) (*session.Session, error) {
	if common.SessionID != "" {
		s := d.pool.Lookup(common.SessionID)
		if s == nil {
			return nil, rpcerr.New(rpcerr.SessionGone, "no session %s", common.SessionID)
		}
		if !historyMethods[method] {
			if st := s.Status(); st != model.StatusActive && st != model.StatusBusy {
				return nil, rpcerr.New(rpcerr.SessionGone, "session %s is %s", common.SessionID, st)
			}
		}
		return s, nil
	}
	kind := model.KindEphemeral
	profile := ""
	if common.UserProfile {
		kind = model.KindUserProfile
		profile = d.cfg.Browser.UserDataDir
	}
	return d.pool.Acquire(ctx, session.AcquireOptions{
		Kind:     kind,
		Profile:  profile,
		Headless: common.Headless,
	})
}

func (d *Dispatcher) serverInfo() map[string]any {
	return map[string]any{
		"version": Version,
		"capabilities": []string{
			"navigate", "interact", "describe", "a11y", "screenshot",
			"trace", "analyze", "history", "export", "emulate", "extension",
		},
		"socket": d.cfg.Server.SocketPath,
	}
}

// sessionInfo reports a session without creating one; for user_profile it
// reports the sole user-profile session or fails SessionGone.
func (d *Dispatcher) sessionInfo(common commonParams) (any, error) {
	if common.SessionID != "" {
		s := d.pool.Lookup(common.SessionID)
		if s == nil {
			return nil, rpcerr.New(rpcerr.SessionGone, "no session %s", common.SessionID)
		}
		return s.Meta(), nil
	}
	if common.UserProfile {
		for _, m := range d.pool.List() {
			if m.Kind == model.KindUserProfile {
				return m, nil
			}
		}
		return nil, rpcerr.New(rpcerr.SessionGone, "no user-profile session")
	}
	return nil, rpcerr.New(rpcerr.InvalidParams, "session_id or user_profile is required")
}

func (d *Dispatcher) sessionDestroy(common commonParams) (any, error) {
	if common.SessionID == "" {
		return nil, rpcerr.New(rpcerr.InvalidParams, "session_id is required")
	}
	if err := d.pool.Release(common.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{"destroyed": common.SessionID}, nil
}

type sessionExportParams struct {
	Out string `json:"out"`
}

// sessionExport packages the session's artifacts for hand-off.
func (d *Dispatcher) sessionExport(raw json.RawMessage, common commonParams) (any, error) {
	var p sessionExportParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if common.SessionID == "" {
		return nil, rpcerr.New(rpcerr.InvalidParams, "session_id is required")
	}
	s := d.pool.Lookup(common.SessionID)
	if s == nil {
		return nil, rpcerr.New(rpcerr.SessionGone, "no session %s", common.SessionID)
	}
	out := p.Out
	if out == "" {
		out = filepath.Join(s.Meta().StorageDir, fmt.Sprintf("export_%s.tar.gz", common.SessionID[:8]))
	}
	if err := export.ArchiveSession(s.Meta().StorageDir, out); err != nil {
		return nil, rpcerr.Wrap(rpcerr.StorageUnavailable, err, "archiving session")
	}
	return map[string]any{"path": out}, nil
}

func decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return rpcerr.New(rpcerr.InvalidParams, "malformed params: %v", err)
	}
	return nil
}

func okResult(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}
