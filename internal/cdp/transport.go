// Package cdp owns one full-duplex Chrome DevTools Protocol connection
// per browser: request/response correlation by sequence number and
// multi-consumer event fan-out in registration order. Grounded on the
// teacher's proxy/websocket.go, which already dials a raw CDP websocket
// directly — generalized here from a pass-through proxy into an owned
// transport so the daemon can issue calls and subscribe to events itself,
// rather than a higher-level CDP library hiding that correlation.
package cdp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localcdp/browserd/internal/rpcerr"
)

// wireRequest is an outbound CDP command frame.
type wireRequest struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// wireMessage is an inbound frame: either a response to a call (has ID)
// or an event (has Method, no ID).
type wireMessage struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Event is a dispatched CDP event, fanned out to subscribers of Method.
type Event struct {
	Method    string
	Params    json.RawMessage
	SessionID string
}

// Handler receives events in arrival order; each handler is invoked
// sequentially per event to preserve ordering within that handler.
type Handler func(Event)

type pendingCall struct {
	resultCh chan callResult
}

type callResult struct {
	result json.RawMessage
	err    error
}

type subscription struct {
	id      int64
	method  string
	handler Handler
}

// Transport is one owned connection to a browser's CDP websocket
// endpoint.
type Transport struct {
	conn *websocket.Conn

	nextID  int64
	nextSub int64

	mu      sync.Mutex
	pending map[int64]*pendingCall
	subs    map[string][]subscription
	closed  bool
	closeCh chan struct{}

	writeMu sync.Mutex
}

// Dial connects to a browser's CDP websocket endpoint (typically
// discovered via /json/version) and starts its reader loop.
func Dial(ctx context.Context, endpoint string) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.SessionLaunchFailed, err, "dialing CDP endpoint %s", endpoint)
	}
	t := &Transport{
		conn:    conn,
		pending: make(map[int64]*pendingCall),
		subs:    make(map[string][]subscription),
		closeCh: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// Call sends method with params, optionally scoped to a CDP target
// session, and blocks for the matching response.
func (t *Transport) Call(ctx context.Context, method string, params any, targetSessionID string) (json.RawMessage, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.Internal, err, "marshaling params for %s", method)
	}

	id := atomic.AddInt64(&t.nextID, 1)
	req := wireRequest{ID: id, Method: method, Params: paramsJSON, SessionID: targetSessionID}

	pc := &pendingCall{resultCh: make(chan callResult, 1)}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, rpcerr.New(rpcerr.TargetGone, "transport closed")
	}
	t.pending[id] = pc
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	t.writeMu.Lock()
	writeErr := t.conn.WriteJSON(req)
	t.writeMu.Unlock()
	if writeErr != nil {
		return nil, rpcerr.Wrap(rpcerr.ProtocolError, writeErr, "writing CDP request %s", method)
	}

	select {
	case res := <-pc.resultCh:
		return res.result, res.err
	case <-ctx.Done():
		return nil, rpcerr.New(rpcerr.Timeout, "%s timed out", method)
	case <-t.closeCh:
		return nil, rpcerr.New(rpcerr.TargetGone, "transport closed mid-call")
	}
}

// Subscribe registers handler for every event named method. Returns an
// unsubscribe function, idempotent on repeat calls.
func (t *Transport) Subscribe(method string, handler Handler) (unsubscribe func()) {
	id := atomic.AddInt64(&t.nextSub, 1)
	t.mu.Lock()
	t.subs[method] = append(t.subs[method], subscription{id: id, method: method, handler: handler})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			list := t.subs[method]
			for i, s := range list {
				if s.id == id {
					t.subs[method] = append(list[:i], list[i+1:]...)
					break
				}
			}
			t.mu.Unlock()
		})
	}
}

// Close drains in-flight calls with a TargetGone "connection closed" error
// and closes the websocket.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, pc := range t.pending {
		pc.resultCh <- callResult{err: rpcerr.New(rpcerr.TargetGone, "connection closed")}
	}
	t.pending = make(map[int64]*pendingCall)
	t.mu.Unlock()
	close(t.closeCh)
	return t.conn.Close()
}

func (t *Transport) readLoop() {
	defer t.Close()
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.ID != 0 {
			t.dispatchResponse(msg)
			continue
		}
		if msg.Method != "" {
			t.dispatchEvent(msg)
		}
	}
}

func (t *Transport) dispatchResponse(msg wireMessage) {
	t.mu.Lock()
	pc, ok := t.pending[msg.ID]
	delete(t.pending, msg.ID)
	t.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		pc.resultCh <- callResult{err: rpcerr.New(rpcerr.ProtocolError, "%s (code %d)", msg.Error.Message, msg.Error.Code)}
		return
	}
	pc.resultCh <- callResult{result: msg.Result}
}

func (t *Transport) dispatchEvent(msg wireMessage) {
	t.mu.Lock()
	handlers := make([]subscription, len(t.subs[msg.Method]))
	copy(handlers, t.subs[msg.Method])
	t.mu.Unlock()

	ev := Event{Method: msg.Method, Params: msg.Params, SessionID: msg.SessionID}
	for _, s := range handlers {
		s.handler(ev)
	}
}

// Done is closed when the connection drops or Close is called; the
// session pool watches it to mark the owning session detached.
func (t *Transport) Done() <-chan struct{} {
	return t.closeCh
}

// DialTimeout is the default budget for establishing a CDP connection.
const DialTimeout = 10 * time.Second

func ConnectWithTimeout(endpoint string) (*Transport, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()
	return Dial(ctx, endpoint)
}
