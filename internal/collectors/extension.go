package collectors

import (
	"encoding/json"

	"github.com/localcdp/browserd/internal/logging"
	"github.com/localcdp/browserd/internal/model"
)

// actionTypes are the extension payload kinds the gateway accepts;
// anything else is dropped.
var actionTypes = map[string]model.EventType{
	"click":      model.EventClick,
	"input":      model.EventInput,
	"select":     model.EventSelect,
	"hover":      model.EventHover,
	"scroll":     model.EventScroll,
	"keypress":   model.EventKeypress,
	"navigate":   model.EventNavigate,
	"dialog":     model.EventDialog,
	"snapshot":   model.EventSnapshot,
	"screenshot": model.EventScreenshot,
}

// Extension ingests user-action events posted by the browser extension
// through the gateway and writes them to the session's store. The
// extension deduplicates pointerdown vs click on its side; the server
// must not deduplicate again.
type Extension struct {
	sink *Sink
	log  *logging.Logger
}

func NewExtension(sink *Sink) *Extension {
	return &Extension{sink: sink, log: logging.New("extension")}
}

// Ingest normalizes one extension event and writes it through. Unknown
// types are dropped with a log line, never an error to the caller.
func (e *Extension) Ingest(eventType string, payload json.RawMessage) {
	t, ok := actionTypes[eventType]
	if !ok {
		e.log.Printf("dropping extension event of unknown type %q", eventType)
		return
	}
	e.sink.Emit(t, payload)
}
