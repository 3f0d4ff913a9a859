package handlers

import (
	"context"
	"time"

	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// WaitParams await a condition: a CSS selector, "load",
// "domcontentloaded", "networkidle", or "stable".
type WaitParams struct {
	For string `json:"for"`
}

const (
	stableNetworkWindow = 500 * time.Millisecond
	stableDOMWindow     = 200 * time.Millisecond
	stablePollInterval  = 50 * time.Millisecond
)

// Wait blocks until the condition holds or the deadline passes. "stable"
// means no in-flight network requests for 500ms and no DOM mutation for
// 200ms, sampled every 50ms.
func (h *H) Wait(ctx context.Context, s *session.Session, p WaitParams) error {
	if p.For == "" {
		return rpcerr.New(rpcerr.InvalidParams, "wait condition is required")
	}
	if p.For != "stable" {
		if err := h.awaitCondition(ctx, s, p.For); err != nil {
			return err
		}
		s.Touch()
		return nil
	}

	// Install a mutation watcher the poll loop reads and resets.
	install := `(() => {
		if (window.__browserdMutations === undefined) {
			window.__browserdMutations = 0;
			new MutationObserver(() => { window.__browserdMutations++; })
				.observe(document.documentElement, {childList: true, subtree: true, attributes: true, characterData: true});
		}
		return true;
	})()`
	if err := eval(ctx, s, install, nil); err != nil {
		return err
	}

	ticker := time.NewTicker(stablePollInterval)
	defer ticker.Stop()

	var networkIdleSince, domQuietSince time.Time
	lastMutations := -1
	for {
		if s.Collectors.Network.InflightCount() > 0 {
			networkIdleSince = time.Time{}
		} else if networkIdleSince.IsZero() {
			networkIdleSince = time.Now()
		}

		var mutations int
		if err := eval(ctx, s, "window.__browserdMutations", &mutations); err != nil {
			return err
		}
		if mutations != lastMutations {
			lastMutations = mutations
			domQuietSince = time.Now()
		}

		networkStable := !networkIdleSince.IsZero() && time.Since(networkIdleSince) >= stableNetworkWindow
		domStable := !domQuietSince.IsZero() && time.Since(domQuietSince) >= stableDOMWindow
		if networkStable && domStable {
			s.Touch()
			return nil
		}

		select {
		case <-ctx.Done():
			return rpcerr.New(rpcerr.Timeout, "page never stabilized")
		case <-ticker.C:
		}
	}
}
