package collectors

import (
	"context"
	"encoding/json"
	"time"

	"github.com/localcdp/browserd/internal/config"
	"github.com/localcdp/browserd/internal/logging"
	"github.com/localcdp/browserd/internal/model"
)

// Caller issues CDP commands on the session's active page; implemented by
// the session so collectors can respond to events without owning the
// transport.
type Caller interface {
	CallPage(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Dialog records javascript dialogs and auto-handles them per the
// configured policy.
type Dialog struct {
	sink     *Sink
	caller   Caller
	behavior config.DialogBehavior
	prompt   string
	log      *logging.Logger
}

func NewDialog(sink *Sink, caller Caller, cfg config.DialogConfig) *Dialog {
	return &Dialog{
		sink:     sink,
		caller:   caller,
		behavior: cfg.Behavior,
		prompt:   cfg.PromptText,
		log:      logging.New("dialog"),
	}
}

func (d *Dialog) Domains() []string { return []string{"Page"} }

func (d *Dialog) Events() map[string]func(json.RawMessage) {
	return map[string]func(json.RawMessage){
		"Page.javascriptDialogOpening": d.onDialogOpening,
	}
}

func (d *Dialog) onDialogOpening(params json.RawMessage) {
	var p struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		URL     string `json:"url"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}

	d.sink.Emit(model.EventDialog, map[string]any{
		"message":  p.Message,
		"type":     p.Type,
		"url":      p.URL,
		"behavior": string(d.behavior),
	})

	if d.behavior == config.DialogNone {
		return
	}

	handleParams := map[string]any{"accept": d.behavior == config.DialogAccept}
	if d.behavior == config.DialogAccept && p.Type == "prompt" && d.prompt != "" {
		handleParams["promptText"] = d.prompt
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.caller.CallPage(ctx, "Page.handleJavaScriptDialog", handleParams); err != nil {
		d.log.Printf("handling %s dialog failed: %v", p.Type, err)
	}
}
