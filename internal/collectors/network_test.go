package collectors

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localcdp/browserd/internal/model"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func networkEvents(fa *fakeAppender) []model.NetworkPayload {
	var out []model.NetworkPayload
	for _, e := range fa.snapshot() {
		if e.Type != model.EventNetwork {
			continue
		}
		var p model.NetworkPayload
		if json.Unmarshal(e.Data, &p) == nil {
			out = append(out, p)
		}
	}
	return out
}

func TestNetworkJoinsRequestAndResponse(t *testing.T) {
	fa := &fakeAppender{}
	sink := NewSink(fa)
	defer sink.Close()
	n := NewNetwork(sink)

	n.onRequestWillBeSent(raw(t, map[string]any{
		"requestId": "r1",
		"timestamp": 10.0,
		"request":   map[string]any{"url": "https://example.test/api", "method": "GET"},
		"initiator": map[string]any{"type": "script"},
	}))
	require.Equal(t, 1, n.InflightCount())

	n.onResponseReceived(raw(t, map[string]any{
		"requestId": "r1",
		"response": map[string]any{
			"status":   200,
			"mimeType": "application/json",
		},
	}))
	n.onLoadingFinished(raw(t, map[string]any{
		"requestId":         "r1",
		"timestamp":         10.5,
		"encodedDataLength": 1234.0,
	}))
	require.Zero(t, n.InflightCount())

	waitFor(t, func() bool { return len(networkEvents(fa)) == 1 })
	p := networkEvents(fa)[0]
	require.Equal(t, "https://example.test/api", p.URL)
	require.Equal(t, "GET", p.Method)
	require.Equal(t, 200, p.Status)
	require.Equal(t, "application/json", p.MimeType)
	require.Equal(t, int64(1234), p.Size)
	require.Equal(t, "script", p.Initiator)
	require.InDelta(t, 500.0, p.Timing.TotalMs, 0.001)
}

func TestNetworkLoadingFailedStillEmits(t *testing.T) {
	fa := &fakeAppender{}
	sink := NewSink(fa)
	defer sink.Close()
	n := NewNetwork(sink)

	n.onRequestWillBeSent(raw(t, map[string]any{
		"requestId": "r2",
		"timestamp": 1.0,
		"request":   map[string]any{"url": "https://example.test/x", "method": "POST"},
	}))
	n.onLoadingFailed(raw(t, map[string]any{"requestId": "r2", "timestamp": 2.0}))

	waitFor(t, func() bool { return len(networkEvents(fa)) == 1 })
	require.Zero(t, networkEvents(fa)[0].Status)
}

func TestNetworkTerminalEventWithoutRequestIsIgnored(t *testing.T) {
	fa := &fakeAppender{}
	sink := NewSink(fa)
	defer sink.Close()
	n := NewNetwork(sink)

	n.onLoadingFinished(raw(t, map[string]any{"requestId": "ghost", "timestamp": 1.0}))
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, networkEvents(fa))
}

func TestNetworkEvictsOldestAtCapacity(t *testing.T) {
	fa := &fakeAppender{}
	sink := NewSink(fa)
	defer sink.Close()
	n := NewNetwork(sink)

	for i := 0; i < maxInflight; i++ {
		n.onRequestWillBeSent(raw(t, map[string]any{
			"requestId": fmt.Sprintf("r%d", i),
			"timestamp": float64(i),
			"request":   map[string]any{"url": "https://example.test/", "method": "GET"},
		}))
	}
	require.Equal(t, maxInflight, n.InflightCount())

	n.onRequestWillBeSent(raw(t, map[string]any{
		"requestId": "overflow",
		"timestamp": 99999.0,
		"request":   map[string]any{"url": "https://example.test/last", "method": "GET"},
	}))
	require.Equal(t, maxInflight, n.InflightCount())

	// The evicted r0 must not produce a network event on its terminal.
	n.onLoadingFinished(raw(t, map[string]any{"requestId": "r0", "timestamp": 100000.0}))

	// One error event records the eviction.
	waitFor(t, func() bool {
		for _, e := range fa.snapshot() {
			if e.Type == model.EventError {
				return true
			}
		}
		return false
	})
	require.Empty(t, networkEvents(fa))
}

func TestConsoleNormalizesLevels(t *testing.T) {
	require.Equal(t, "warn", normalizeLevel("warning"))
	require.Equal(t, "error", normalizeLevel("assert"))
	require.Equal(t, "info", normalizeLevel("log"))
	require.Equal(t, "debug", normalizeLevel("verbose"))
}

func TestConsoleCollectsAPICall(t *testing.T) {
	fa := &fakeAppender{}
	sink := NewSink(fa)
	defer sink.Close()
	c := NewConsole(sink)

	c.onConsoleAPICalled(raw(t, map[string]any{
		"type": "error",
		"args": []map[string]any{
			{"value": "boom"},
			{"value": 42},
		},
	}))

	waitFor(t, func() bool { return len(fa.snapshot()) == 1 })
	var p model.ConsolePayload
	require.NoError(t, json.Unmarshal(fa.snapshot()[0].Data, &p))
	require.Equal(t, "error", p.Level)
	require.Equal(t, "boom 42", p.Text)
}

func TestExtensionIngestKnownAndUnknownTypes(t *testing.T) {
	fa := &fakeAppender{}
	sink := NewSink(fa)
	defer sink.Close()
	e := NewExtension(sink)

	e.Ingest("click", raw(t, map[string]any{"css": "#go"}))
	e.Ingest("bogus", raw(t, map[string]any{}))

	waitFor(t, func() bool { return len(fa.snapshot()) == 1 })
	time.Sleep(30 * time.Millisecond)
	events := fa.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, model.EventClick, events[0].Type)
}
