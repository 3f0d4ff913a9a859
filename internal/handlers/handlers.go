// Package handlers implements the daemon's high-level operations:
// navigation, interaction, inspection, capture, emulation, history, and
// export. Each handler maps a request to a sequence of CDP calls and
// store operations and returns a typed result.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/localcdp/browserd/internal/config"
	"github.com/localcdp/browserd/internal/logging"
	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// H carries handler dependencies shared across commands.
type H struct {
	Cfg *config.Config
	Log *logging.Logger
}

func New(cfg *config.Config) *H {
	return &H{Cfg: cfg, Log: logging.New("handlers")}
}

// Target is the cross-cutting (selector?, ref?) pair accepted by every
// interaction command. A non-empty selector wins; otherwise the ref is
// resolved against the session's current generation.
type Target struct {
	Selector string `json:"selector,omitempty"`
	Ref      string `json:"ref,omitempty"`
}

// ResolveTarget applies the selector-over-ref preference.
func ResolveTarget(s *session.Session, t Target) (string, error) {
	if t.Selector != "" {
		return t.Selector, nil
	}
	if t.Ref != "" {
		return s.ResolveRef(t.Ref)
	}
	return "", rpcerr.New(rpcerr.InvalidParams, "either selector or ref is required")
}

// evalResult is the subset of Runtime.evaluate's response handlers care
// about.
type evalResult struct {
	Result struct {
		Type    string          `json:"type"`
		Subtype string          `json:"subtype"`
		Value   json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// eval runs expression on the session's active page and decodes the
// returned value into out (skipped when out is nil).
func eval(ctx context.Context, s *session.Session, expression string, out any) error {
	res, err := s.CallPage(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return err
	}
	var er evalResult
	if err := json.Unmarshal(res, &er); err != nil {
		return rpcerr.Wrap(rpcerr.ProtocolError, err, "decoding evaluate result")
	}
	if er.ExceptionDetails != nil {
		msg := er.ExceptionDetails.Text
		if er.ExceptionDetails.Exception != nil {
			msg = er.ExceptionDetails.Exception.Description
		}
		return rpcerr.New(rpcerr.Internal, "page script failed: %s", msg)
	}
	if out == nil || er.Result.Value == nil {
		return nil
	}
	if err := json.Unmarshal(er.Result.Value, out); err != nil {
		return rpcerr.Wrap(rpcerr.Internal, err, "decoding page script value")
	}
	return nil
}

// quoteJS embeds s in a JS double-quoted string literal.
func quoteJS(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// elementBox is the bounding box a handler needs to aim input events.
type elementBox struct {
	Found   bool    `json:"found"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Visible bool    `json:"visible"`
}

// locate resolves selector to its viewport box, scrolling it into view
// first when asked. Fails ElementNotFound when the selector matches no
// node, ElementNotVisible when the box is empty after scrolling.
func locate(ctx context.Context, s *session.Session, selector string, scrollIntoView bool) (*elementBox, error) {
	scroll := ""
	if scrollIntoView {
		scroll = `el.scrollIntoView({block: "center", inline: "center"});`
	}
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return {found: false};
		%s
		const r = el.getBoundingClientRect();
		return {found: true, x: r.x, y: r.y, width: r.width, height: r.height,
			visible: r.width > 0 && r.height > 0};
	})()`, quoteJS(selector), scroll)

	var box elementBox
	if err := eval(ctx, s, expr, &box); err != nil {
		return nil, err
	}
	if !box.Found {
		return nil, rpcerr.New(rpcerr.ElementNotFound, "no element matches %q", selector)
	}
	if !box.Visible {
		return nil, rpcerr.New(rpcerr.ElementNotVisible, "element %q has an empty bounding box", selector)
	}
	return &box, nil
}
