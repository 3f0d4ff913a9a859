package handlers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localcdp/browserd/internal/model"
)

func event(t *testing.T, id int64, typ model.EventType, payload any) model.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return model.Event{ID: id, Type: typ, Data: data}
}

func TestGeneratePlaywrightScript(t *testing.T) {
	events := []model.Event{
		event(t, 1, model.EventNavigate, map[string]any{"url": "https://example.test/", "type": "page_load"}),
		event(t, 2, model.EventClick, map[string]any{"css": "#login", "aria": []string{"button", "Log in"}}),
		event(t, 3, model.EventInput, map[string]any{"css": "input[name=email]", "value": "a@b.c"}),
		event(t, 4, model.EventKeypress, map[string]any{"key": "Enter"}),
	}

	script := GeneratePlaywrightScript(events)
	require.Contains(t, script, "import { test, expect } from '@playwright/test';")
	require.Contains(t, script, "await page.goto('https://example.test/');")
	require.Contains(t, script, "await page.getByRole('button', { name: 'Log in' }).click();")
	require.Contains(t, script, "await page.locator('input[name=email]').fill('a@b.c');")
	require.Contains(t, script, "await page.keyboard.press('Enter');")
}

func TestGenerateIsDeterministic(t *testing.T) {
	events := []model.Event{
		event(t, 1, model.EventClick, map[string]any{"css": ".a"}),
		event(t, 2, model.EventScroll, map[string]any{"dx": 0.0, "dy": 300.0}),
	}
	first := GeneratePlaywrightScript(events)
	second := GeneratePlaywrightScript(events)
	require.Equal(t, first, second)
}

func TestLocatorPreference(t *testing.T) {
	require.Equal(t, "page.getByTestId('submit')",
		actionToLocator(exportedAction{TestID: "submit", CSS: "#x"}))
	require.Equal(t, "page.getByRole('link', { name: 'Home' })",
		actionToLocator(exportedAction{Aria: []string{"link", "Home"}, CSS: "#x"}))
	require.Equal(t, "page.getByText('Save')",
		actionToLocator(exportedAction{Text: "Save", CSS: "#x"}))
	require.Equal(t, "page.locator('#x')",
		actionToLocator(exportedAction{CSS: "#x"}))
}

func TestSPANavigationsAreSkipped(t *testing.T) {
	events := []model.Event{
		event(t, 1, model.EventNavigate, map[string]any{"url": "https://example.test/a", "type": "page_load"}),
		event(t, 2, model.EventNavigate, map[string]any{"url": "https://example.test/b", "type": "pushState"}),
	}
	script := GeneratePlaywrightScript(events)
	require.Contains(t, script, "goto('https://example.test/a')")
	require.NotContains(t, script, "example.test/b")
}

func TestDuplicateNavigationsCollapse(t *testing.T) {
	events := []model.Event{
		event(t, 1, model.EventNavigate, map[string]any{"url": "https://example.test/", "type": "page_load"}),
		event(t, 2, model.EventNavigate, map[string]any{"url": "https://example.test/", "type": "page_load"}),
	}
	script := GeneratePlaywrightScript(events)
	require.Equal(t, 1, countOccurrences(script, "page.goto"))
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}

func TestEscapeSingleQuotes(t *testing.T) {
	require.Equal(t, `'it\'s'`, quoteJSSingle("it's"))
	require.Equal(t, `'a\\b'`, quoteJSSingle(`a\b`))
}
