package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// ExportParams select the export format; playwright is the only format
// today.
type ExportParams struct {
	Format string `json:"format,omitempty"`
}

// ExportResult carries the generated script.
type ExportResult struct {
	Format string `json:"format"`
	Script string `json:"script"`
	Events int    `json:"events"`
}

// Export streams the session's user-interaction events in chronological
// order and emits a script reproducing them. The conversion is pure and
// deterministic: same events in, same script out.
func (h *H) Export(ctx context.Context, s *session.Session, p ExportParams) (*ExportResult, error) {
	format := p.Format
	if format == "" {
		format = "playwright"
	}
	if format != "playwright" {
		return nil, rpcerr.New(rpcerr.InvalidParams, "unsupported export format %q", format)
	}

	events, err := s.Store.Query(ctx, model.EventFilter{Types: []model.EventType{
		model.EventClick, model.EventInput, model.EventHover, model.EventScroll,
		model.EventKeypress, model.EventSelect, model.EventNavigate,
	}})
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.StorageUnavailable, err, "reading events for export")
	}

	script := GeneratePlaywrightScript(events)
	return &ExportResult{Format: format, Script: script, Events: len(events)}, nil
}

// exportedAction is the payload subset the converter reads from user
// action events.
type exportedAction struct {
	CSS    string   `json:"css"`
	XPath  string   `json:"xpath"`
	Aria   []string `json:"aria"`
	TestID string   `json:"testid"`
	Text   string   `json:"text"`
	URL    string   `json:"url"`
	Type   string   `json:"type"`
	Value  string   `json:"value"`
	Key    string   `json:"key"`
	DX     float64  `json:"dx"`
	DY     float64  `json:"dy"`
}

// GeneratePlaywrightScript converts stored interaction events into a
// Playwright test. Pure and deterministic.
func GeneratePlaywrightScript(events []model.Event) string {
	lines := []string{
		"import { test, expect } from '@playwright/test';",
		"",
		"test('recorded session', async ({ page }) => {",
	}
	var lastURL string
	for _, e := range events {
		if line := eventToPlaywright(e, &lastURL); line != "" {
			lines = append(lines, "  "+line)
		}
	}
	lines = append(lines, "});", "")
	return strings.Join(lines, "\n")
}

func eventToPlaywright(e model.Event, lastURL *string) string {
	var a exportedAction
	if json.Unmarshal(e.Data, &a) != nil {
		return ""
	}
	switch e.Type {
	case model.EventNavigate:
		if a.URL == "" || a.URL == *lastURL {
			return ""
		}
		*lastURL = a.URL
		if a.Type == "pushState" || a.Type == "popState" || a.Type == "replaceState" {
			// SPA transitions replay via the interactions that caused them.
			return ""
		}
		return fmt.Sprintf("await page.goto(%s);", quoteJSSingle(a.URL))
	case model.EventClick:
		return fmt.Sprintf("await %s.click();", actionToLocator(a))
	case model.EventInput:
		return fmt.Sprintf("await %s.fill(%s);", actionToLocator(a), quoteJSSingle(a.Value))
	case model.EventHover:
		return fmt.Sprintf("await %s.hover();", actionToLocator(a))
	case model.EventSelect:
		return fmt.Sprintf("await %s.selectOption(%s);", actionToLocator(a), quoteJSSingle(a.Value))
	case model.EventKeypress:
		if a.Key == "" {
			return ""
		}
		return fmt.Sprintf("await page.keyboard.press(%s);", quoteJSSingle(a.Key))
	case model.EventScroll:
		if a.DX == 0 && a.DY == 0 {
			return ""
		}
		return fmt.Sprintf("await page.mouse.wheel(%g, %g);", a.DX, a.DY)
	default:
		return ""
	}
}

// actionToLocator prefers test ids, then ARIA role/name, then text, then
// the raw CSS path.
func actionToLocator(a exportedAction) string {
	if a.TestID != "" {
		return fmt.Sprintf("page.getByTestId(%s)", quoteJSSingle(a.TestID))
	}
	if len(a.Aria) >= 2 && a.Aria[0] != "" && a.Aria[1] != "" {
		return fmt.Sprintf("page.getByRole(%s, { name: %s })", quoteJSSingle(a.Aria[0]), quoteJSSingle(a.Aria[1]))
	}
	if a.Text != "" && len(a.Text) <= 40 {
		return fmt.Sprintf("page.getByText(%s)", quoteJSSingle(a.Text))
	}
	return fmt.Sprintf("page.locator(%s)", quoteJSSingle(a.CSS))
}

// quoteJSSingle renders a single-quoted JS string literal.
func quoteJSSingle(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
