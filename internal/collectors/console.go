package collectors

import (
	"encoding/json"
	"strings"

	"github.com/localcdp/browserd/internal/model"
)

// Console records Runtime.consoleAPICalled and Log.entryAdded as console
// store events.
type Console struct {
	sink *Sink
}

func NewConsole(sink *Sink) *Console {
	return &Console{sink: sink}
}

func (c *Console) Domains() []string { return []string{"Runtime", "Log"} }

func (c *Console) Events() map[string]func(json.RawMessage) {
	return map[string]func(json.RawMessage){
		"Runtime.consoleAPICalled": c.onConsoleAPICalled,
		"Log.entryAdded":           c.onLogEntryAdded,
	}
}

func (c *Console) onConsoleAPICalled(params json.RawMessage) {
	var p struct {
		Type string `json:"type"`
		Args []struct {
			Value       any    `json:"value"`
			Description string `json:"description"`
		} `json:"args"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}

	parts := make([]string, 0, len(p.Args))
	for _, a := range p.Args {
		switch v := a.Value.(type) {
		case string:
			parts = append(parts, v)
		case nil:
			if a.Description != "" {
				parts = append(parts, a.Description)
			}
		default:
			b, err := json.Marshal(v)
			if err == nil {
				parts = append(parts, string(b))
			}
		}
	}

	c.sink.Emit(model.EventConsole, model.ConsolePayload{
		Level:  normalizeLevel(p.Type),
		Text:   strings.Join(parts, " "),
		Source: "console-api",
	})
}

func (c *Console) onLogEntryAdded(params json.RawMessage) {
	var p struct {
		Entry struct {
			Level  string `json:"level"`
			Text   string `json:"text"`
			Source string `json:"source"`
			URL    string `json:"url"`
		} `json:"entry"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	c.sink.Emit(model.EventConsole, model.ConsolePayload{
		Level:  normalizeLevel(p.Entry.Level),
		Text:   p.Entry.Text,
		Source: p.Entry.Source,
		URL:    p.Entry.URL,
	})
}

// normalizeLevel collapses CDP's console type names onto the four levels
// history filters understand. Any other type name is returned unchanged.
func normalizeLevel(t string) string {
	switch t {
	case "warning":
		return "warn"
	case "error", "assert":
		return "error"
	case "debug", "verbose":
		return "debug"
	case "info", "log", "":
		return "info"
	default:
		return t
	}
}
