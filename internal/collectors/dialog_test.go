package collectors

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localcdp/browserd/internal/config"
	"github.com/localcdp/browserd/internal/model"
)

// fakeCaller records CDP calls made by a collector.
type fakeCaller struct {
	mu    sync.Mutex
	calls []struct {
		method string
		params map[string]any
	}
}

func (f *fakeCaller) CallPage(_ context.Context, method string, params any) (json.RawMessage, error) {
	data, _ := json.Marshal(params)
	var decoded map[string]any
	json.Unmarshal(data, &decoded)
	f.mu.Lock()
	f.calls = append(f.calls, struct {
		method string
		params map[string]any
	}{method, decoded})
	f.mu.Unlock()
	return json.RawMessage(`{}`), nil
}

func (f *fakeCaller) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.method
	}
	return out
}

func TestDialogDismissPolicy(t *testing.T) {
	fa := &fakeAppender{}
	sink := NewSink(fa)
	defer sink.Close()
	fc := &fakeCaller{}
	d := NewDialog(sink, fc, config.DialogConfig{Behavior: config.DialogDismiss})

	d.onDialogOpening(raw(t, map[string]any{
		"message": "are you sure?",
		"type":    "confirm",
		"url":     "https://example.test/",
	}))

	require.Equal(t, []string{"Page.handleJavaScriptDialog"}, fc.snapshot())
	fc.mu.Lock()
	require.Equal(t, false, fc.calls[0].params["accept"])
	fc.mu.Unlock()

	waitFor(t, func() bool { return len(fa.snapshot()) == 1 })
	require.Equal(t, model.EventDialog, fa.snapshot()[0].Type)
}

func TestDialogAcceptWithPromptText(t *testing.T) {
	fa := &fakeAppender{}
	sink := NewSink(fa)
	defer sink.Close()
	fc := &fakeCaller{}
	d := NewDialog(sink, fc, config.DialogConfig{Behavior: config.DialogAccept, PromptText: "yes"})

	d.onDialogOpening(raw(t, map[string]any{"message": "name?", "type": "prompt"}))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.calls, 1)
	require.Equal(t, true, fc.calls[0].params["accept"])
	require.Equal(t, "yes", fc.calls[0].params["promptText"])
}

func TestDialogNonePolicyLeavesDialog(t *testing.T) {
	fa := &fakeAppender{}
	sink := NewSink(fa)
	defer sink.Close()
	fc := &fakeCaller{}
	d := NewDialog(sink, fc, config.DialogConfig{Behavior: config.DialogNone})

	d.onDialogOpening(raw(t, map[string]any{"message": "x", "type": "alert"}))
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, fc.snapshot())

	// The dialog event is still recorded.
	waitFor(t, func() bool { return len(fa.snapshot()) == 1 })
}
