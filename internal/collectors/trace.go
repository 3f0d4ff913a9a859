package collectors

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/rpcerr"
)

// Trace drives CDP Tracing for a session: start issues Tracing.start,
// dataCollected events stream to a newline-delimited JSON file, end
// flushes the file and records a trace store event. CDP tracing is
// process-global, so at most one trace is active per browser.
type Trace struct {
	sink   *Sink
	caller Caller

	mu         sync.Mutex
	active     bool
	traceID    string
	path       string
	file       *os.File
	w          *bufio.Writer
	eventCount int
	startedAt  time.Time
	doneCh     chan struct{}
}

func NewTrace(sink *Sink, caller Caller) *Trace {
	return &Trace{sink: sink, caller: caller}
}

func (t *Trace) Domains() []string { return nil }

func (t *Trace) Events() map[string]func(json.RawMessage) {
	return map[string]func(json.RawMessage){
		"Tracing.dataCollected":   t.onDataCollected,
		"Tracing.tracingComplete": t.onTracingComplete,
	}
}

// Start begins tracing into path. Fails InvalidParams if a trace is
// already active on this browser.
func (t *Trace) Start(ctx context.Context, traceID, path string, categories []string) error {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return rpcerr.New(rpcerr.InvalidParams, "already tracing")
	}
	f, err := os.Create(path)
	if err != nil {
		t.mu.Unlock()
		return rpcerr.Wrap(rpcerr.StorageUnavailable, err, "creating trace file %s", path)
	}
	t.active = true
	t.traceID = traceID
	t.path = path
	t.file = f
	t.w = bufio.NewWriter(f)
	t.eventCount = 0
	t.startedAt = time.Now()
	t.doneCh = make(chan struct{})
	t.mu.Unlock()

	params := map[string]any{"transferMode": "ReportEvents"}
	if len(categories) > 0 {
		params["categories"] = joinCategories(categories)
	}
	if _, err := t.caller.CallPage(ctx, "Tracing.start", params); err != nil {
		t.abort()
		return err
	}
	return nil
}

// End stops tracing, waits for the browser to flush its buffers, and
// records the trace metadata.
func (t *Trace) End(ctx context.Context) (*model.Trace, error) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return nil, rpcerr.New(rpcerr.InvalidParams, "no active trace")
	}
	done := t.doneCh
	t.mu.Unlock()

	if _, err := t.caller.CallPage(ctx, "Tracing.end", map[string]any{}); err != nil {
		t.abort()
		return nil, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.abort()
		return nil, rpcerr.New(rpcerr.Timeout, "trace flush timed out")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Flush()
	t.file.Close()

	now := time.Now()
	tr := &model.Trace{
		ID:         t.traceID,
		StartedAt:  t.startedAt,
		EndedAt:    &now,
		EventCount: t.eventCount,
		Status:     model.TraceComplete,
		Path:       t.path,
	}
	t.sink.Emit(model.EventTrace, map[string]any{
		"trace_id":    tr.ID,
		"event_count": tr.EventCount,
		"path":        tr.Path,
	})
	t.active = false
	t.file = nil
	t.w = nil
	return tr, nil
}

// Active reports whether a trace is currently running.
func (t *Trace) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Trace) onDataCollected(params json.RawMessage) {
	var p struct {
		Value []json.RawMessage `json:"value"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || t.w == nil {
		return
	}
	for _, ev := range p.Value {
		t.w.Write(ev)
		t.w.WriteByte('\n')
		t.eventCount++
	}
}

func (t *Trace) onTracingComplete(json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.doneCh != nil {
		select {
		case <-t.doneCh:
		default:
			close(t.doneCh)
		}
	}
}

func (t *Trace) abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
		os.Remove(t.path)
	}
	t.active = false
	t.file = nil
	t.w = nil
}

func joinCategories(categories []string) string {
	out := ""
	for i, c := range categories {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}

// TracePath is the conventional location of a session's streamed trace.
func TracePath(storageDir, traceID string) string {
	return fmt.Sprintf("%s/trace_%s.ndjson", storageDir, traceID)
}
