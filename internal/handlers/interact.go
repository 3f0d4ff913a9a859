package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// ClickParams target one element, by selector or ref.
type ClickParams struct {
	Target
	Button     string `json:"button,omitempty"`
	ClickCount int    `json:"click_count,omitempty"`
}

// Click scrolls the target into view and dispatches a full mouse
// press/release at its center.
func (h *H) Click(ctx context.Context, s *session.Session, p ClickParams) error {
	selector, err := ResolveTarget(s, p.Target)
	if err != nil {
		return err
	}
	box, err := locate(ctx, s, selector, true)
	if err != nil {
		return err
	}
	button := p.Button
	if button == "" {
		button = "left"
	}
	count := p.ClickCount
	if count == 0 {
		count = 1
	}
	cx, cy := box.X+box.Width/2, box.Y+box.Height/2
	for _, typ := range []string{"mousePressed", "mouseReleased"} {
		if _, err := s.CallPage(ctx, "Input.dispatchMouseEvent", map[string]any{
			"type":       typ,
			"x":          cx,
			"y":          cy,
			"button":     button,
			"clickCount": count,
		}); err != nil {
			return err
		}
	}
	s.Touch()
	return nil
}

// Hover moves the mouse over the target's center.
func (h *H) Hover(ctx context.Context, s *session.Session, t Target) error {
	selector, err := ResolveTarget(s, t)
	if err != nil {
		return err
	}
	box, err := locate(ctx, s, selector, true)
	if err != nil {
		return err
	}
	_, err = s.CallPage(ctx, "Input.dispatchMouseEvent", map[string]any{
		"type": "mouseMoved",
		"x":    box.X + box.Width/2,
		"y":    box.Y + box.Height/2,
	})
	if err == nil {
		s.Touch()
	}
	return err
}

// ScrollParams either scroll an element into view (selector/ref) or the
// window by a pixel delta.
type ScrollParams struct {
	Target
	DeltaX float64 `json:"dx,omitempty"`
	DeltaY float64 `json:"dy,omitempty"`
}

func (h *H) Scroll(ctx context.Context, s *session.Session, p ScrollParams) error {
	if p.Selector == "" && p.Ref == "" {
		expr := fmt.Sprintf("window.scrollBy(%g, %g)", p.DeltaX, p.DeltaY)
		if err := eval(ctx, s, expr, nil); err != nil {
			return err
		}
		s.Touch()
		return nil
	}
	selector, err := ResolveTarget(s, p.Target)
	if err != nil {
		return err
	}
	if _, err := locate(ctx, s, selector, true); err != nil {
		return err
	}
	s.Touch()
	return nil
}

// FillParams set a form control's value wholesale.
type FillParams struct {
	Target
	Value string `json:"value"`
}

// Fill focuses the target, clears its value, and sets the new one through
// the page's native setter so framework listeners fire.
func (h *H) Fill(ctx context.Context, s *session.Session, p FillParams) error {
	selector, err := ResolveTarget(s, p.Target)
	if err != nil {
		return err
	}
	if _, err := locate(ctx, s, selector, true); err != nil {
		return err
	}
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		el.focus();
		const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, "value").set;
		setter.call(el, %s);
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return true;
	})()`, quoteJS(selector), quoteJS(p.Value))
	if err := eval(ctx, s, expr, nil); err != nil {
		return err
	}
	s.Touch()
	return nil
}

// TypeParams emit per-character key events with an optional inter-key
// delay.
type TypeParams struct {
	Target
	Text    string `json:"text"`
	DelayMs int    `json:"delay_ms,omitempty"`
}

func (h *H) Type(ctx context.Context, s *session.Session, p TypeParams) error {
	selector, err := ResolveTarget(s, p.Target)
	if err != nil {
		return err
	}
	if _, err := locate(ctx, s, selector, true); err != nil {
		return err
	}
	if err := eval(ctx, s, fmt.Sprintf("document.querySelector(%s).focus()", quoteJS(selector)), nil); err != nil {
		return err
	}
	for _, r := range p.Text {
		if _, err := s.CallPage(ctx, "Input.dispatchKeyEvent", map[string]any{
			"type": "char",
			"text": string(r),
		}); err != nil {
			return err
		}
		if p.DelayMs > 0 {
			select {
			case <-time.After(time.Duration(p.DelayMs) * time.Millisecond):
			case <-ctx.Done():
				return rpcerr.New(rpcerr.Timeout, "typing interrupted")
			}
		}
	}
	s.Touch()
	return nil
}

// SelectParams choose a <select> option by label, value, or index; at
// least one must be provided, and label wins over value, value over index.
type SelectParams struct {
	Target
	Label string `json:"label,omitempty"`
	Value string `json:"value,omitempty"`
	Index *int   `json:"index,omitempty"`
}

func (h *H) Select(ctx context.Context, s *session.Session, p SelectParams) error {
	selector, err := ResolveTarget(s, p.Target)
	if err != nil {
		return err
	}
	if p.Label == "" && p.Value == "" && p.Index == nil {
		return rpcerr.New(rpcerr.InvalidParams, "one of label, value, or index is required")
	}
	if _, err := locate(ctx, s, selector, true); err != nil {
		return err
	}

	var match string
	switch {
	case p.Label != "":
		match = fmt.Sprintf("o.label === %s || o.text === %s", quoteJS(p.Label), quoteJS(p.Label))
	case p.Value != "":
		match = fmt.Sprintf("o.value === %s", quoteJS(p.Value))
	default:
		match = fmt.Sprintf("i === %d", *p.Index)
	}
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!(el instanceof HTMLSelectElement)) return "not-select";
		const opts = Array.from(el.options);
		const idx = opts.findIndex((o, i) => %s);
		if (idx < 0) return "no-match";
		el.selectedIndex = idx;
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return "ok";
	})()`, quoteJS(selector), match)

	var outcome string
	if err := eval(ctx, s, expr, &outcome); err != nil {
		return err
	}
	switch outcome {
	case "ok":
		s.Touch()
		return nil
	case "not-select":
		return rpcerr.New(rpcerr.InvalidParams, "element %q is not a <select>", selector)
	default:
		return rpcerr.New(rpcerr.OptionNotFound, "no option matches in %q", selector)
	}
}

// keyDefinitions maps key names to their CDP key identifiers and Windows
// virtual key codes.
var keyDefinitions = map[string]struct {
	key  string
	code int
}{
	"Enter":      {"Enter", 13},
	"Tab":        {"Tab", 9},
	"Escape":     {"Escape", 27},
	"Backspace":  {"Backspace", 8},
	"Delete":     {"Delete", 46},
	"ArrowUp":    {"ArrowUp", 38},
	"ArrowDown":  {"ArrowDown", 40},
	"ArrowLeft":  {"ArrowLeft", 37},
	"ArrowRight": {"ArrowRight", 39},
	"Home":       {"Home", 36},
	"End":        {"End", 35},
	"PageUp":     {"PageUp", 33},
	"PageDown":   {"PageDown", 34},
	"Space":      {" ", 32},
}

var modifierBits = map[string]int{
	"Alt":     1,
	"Control": 2,
	"Ctrl":    2,
	"Meta":    4,
	"Cmd":     4,
	"Shift":   8,
}

// PressParams name a key, with modifiers joined by "+": "Control+a",
// "Shift+Tab", "Enter".
type PressParams struct {
	Key string `json:"key"`
}

func (h *H) Press(ctx context.Context, s *session.Session, p PressParams) error {
	if p.Key == "" {
		return rpcerr.New(rpcerr.InvalidParams, "key is required")
	}
	parts := strings.Split(p.Key, "+")
	keyName := parts[len(parts)-1]
	modifiers := 0
	for _, m := range parts[:len(parts)-1] {
		bit, ok := modifierBits[m]
		if !ok {
			return rpcerr.New(rpcerr.InvalidParams, "unknown modifier %q", m)
		}
		modifiers |= bit
	}

	def, known := keyDefinitions[keyName]
	isPrintable := len(keyName) == 1 && keyName[0] >= 0x20 && keyName[0] < 0x7f
	if !known && !isPrintable {
		return rpcerr.New(rpcerr.InvalidParams, "unknown key %q", keyName)
	}

	key := keyName
	code := 0
	text := ""
	if known {
		key = def.key
		code = def.code
		if key == " " || key == "Enter" {
			text = map[string]string{" ": " ", "Enter": "\r"}[key]
		}
	} else {
		code = int(strings.ToUpper(keyName)[0])
		if modifiers&8 == 0 && modifiers&2 == 0 && modifiers&4 == 0 {
			text = keyName
		}
	}

	for _, typ := range []string{"keyDown", "keyUp"} {
		params := map[string]any{
			"type":                  typ,
			"key":                   key,
			"windowsVirtualKeyCode": code,
			"modifiers":             modifiers,
		}
		if typ == "keyDown" && text != "" {
			params["text"] = text
		}
		if _, err := s.CallPage(ctx, "Input.dispatchKeyEvent", params); err != nil {
			return err
		}
	}
	s.Touch()
	return nil
}
