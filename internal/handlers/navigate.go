package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// NavigateParams select the destination and the readiness condition to
// await: "load" (default), "domcontentloaded", "networkidle", or any CSS
// selector.
type NavigateParams struct {
	URL     string `json:"url"`
	WaitFor string `json:"wait_for,omitempty"`
}

// NavigateResult reports where the page ended up and which condition
// completed.
type NavigateResult struct {
	FinalURL string `json:"final_url"`
	Status   string `json:"status"`
}

const networkIdleWindow = 500 * time.Millisecond

// Navigate sets the active page URL, awaits the requested condition, and
// invalidates the session's ref registry. Navigation mutates global
// browser state, so it runs under the session's busy lock.
func (h *H) Navigate(ctx context.Context, s *session.Session, p NavigateParams) (*NavigateResult, error) {
	if p.URL == "" {
		return nil, rpcerr.New(rpcerr.InvalidParams, "url is required")
	}
	waitFor := p.WaitFor
	if waitFor == "" {
		waitFor = "load"
	}

	var result *NavigateResult
	err := s.WithExclusive(func() error {
		if _, err := s.CallPage(ctx, "Page.navigate", map[string]any{"url": p.URL}); err != nil {
			return err
		}
		if err := h.awaitCondition(ctx, s, waitFor); err != nil {
			return err
		}
		s.BumpGeneration()

		var finalURL string
		if err := eval(ctx, s, "window.location.href", &finalURL); err != nil {
			finalURL = p.URL
		}
		s.Collectors.Sink.Emit(model.EventNavigate, model.NavigatePayload{
			URL:  finalURL,
			Type: "load",
			TsMs: time.Now().UnixMilli(),
		})
		result = &NavigateResult{FinalURL: finalURL, Status: waitFor}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Touch()
	return result, nil
}

// Reload reloads the active page and invalidates refs.
func (h *H) Reload(ctx context.Context, s *session.Session) (*NavigateResult, error) {
	var result *NavigateResult
	err := s.WithExclusive(func() error {
		if _, err := s.CallPage(ctx, "Page.reload", map[string]any{}); err != nil {
			return err
		}
		if err := h.awaitCondition(ctx, s, "load"); err != nil {
			return err
		}
		s.BumpGeneration()
		var finalURL string
		eval(ctx, s, "window.location.href", &finalURL)
		result = &NavigateResult{FinalURL: finalURL, Status: "load"}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Touch()
	return result, nil
}

// awaitCondition polls the page until the wait condition holds or ctx
// expires.
func (h *H) awaitCondition(ctx context.Context, s *session.Session, waitFor string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		done, err := h.checkCondition(ctx, s, waitFor, &idleSince)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return rpcerr.New(rpcerr.Timeout, "waiting for %q", waitFor)
		case <-ticker.C:
		}
	}
}

func (h *H) checkCondition(ctx context.Context, s *session.Session, waitFor string, idleSince *time.Time) (bool, error) {
	switch waitFor {
	case "load":
		var state string
		if err := eval(ctx, s, "document.readyState", &state); err != nil {
			return false, err
		}
		return state == "complete", nil
	case "domcontentloaded":
		var state string
		if err := eval(ctx, s, "document.readyState", &state); err != nil {
			return false, err
		}
		return state == "interactive" || state == "complete", nil
	case "networkidle":
		if s.Collectors.Network.InflightCount() > 0 {
			*idleSince = time.Time{}
			return false, nil
		}
		if idleSince.IsZero() {
			*idleSince = time.Now()
			return false, nil
		}
		return time.Since(*idleSince) >= networkIdleWindow, nil
	default:
		// Any other value is a CSS selector to await.
		var found bool
		expr := fmt.Sprintf("document.querySelector(%s) !== null", quoteJS(waitFor))
		if err := eval(ctx, s, expr, &found); err != nil {
			if strings.Contains(err.Error(), "script failed") {
				return false, rpcerr.New(rpcerr.InvalidParams, "invalid wait_for selector %q", waitFor)
			}
			return false, err
		}
		return found, nil
	}
}
