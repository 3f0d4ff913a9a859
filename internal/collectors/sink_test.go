package collectors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localcdp/browserd/internal/model"
)

// fakeAppender records appends and can be toggled unavailable.
type fakeAppender struct {
	mu     sync.Mutex
	events []model.Event
	fail   bool
	nextID int64
}

func (f *fakeAppender) AppendRaw(_ context.Context, eventType model.EventType, data []byte, tsMs int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, context.DeadlineExceeded
	}
	f.nextID++
	f.events = append(f.events, model.Event{ID: f.nextID, Type: eventType, Data: data, TimestampMs: tsMs})
	return f.nextID, nil
}

func (f *fakeAppender) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeAppender) snapshot() []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Event, len(f.events))
	copy(out, f.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestSinkWritesThrough(t *testing.T) {
	fa := &fakeAppender{}
	sink := NewSink(fa)
	defer sink.Close()

	sink.Emit(model.EventClick, map[string]any{"x": 1})
	sink.Emit(model.EventInput, map[string]any{"v": "a"})

	waitFor(t, func() bool { return len(fa.snapshot()) == 2 })
	events := fa.snapshot()
	require.Equal(t, model.EventClick, events[0].Type)
	require.Equal(t, model.EventInput, events[1].Type)
}

func TestSinkBuffersDuringOutageAndEmitsDegradedNotice(t *testing.T) {
	old := retryInterval
	retryInterval = 10 * time.Millisecond
	defer func() { retryInterval = old }()

	fa := &fakeAppender{}
	fa.setFail(true)
	sink := NewSink(fa)
	defer sink.Close()

	for i := 0; i < 5; i++ {
		sink.Emit(model.EventScroll, map[string]any{"n": i})
	}
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, fa.snapshot())

	fa.setFail(false)
	// 5 buffered events plus exactly one StorageDegraded error event.
	waitFor(t, func() bool { return len(fa.snapshot()) == 6 })
	time.Sleep(50 * time.Millisecond)

	events := fa.snapshot()
	require.Len(t, events, 6)
	degraded := 0
	for _, e := range events {
		if e.Type == model.EventError {
			degraded++
		}
	}
	require.Equal(t, 1, degraded)
}
