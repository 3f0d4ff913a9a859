package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localcdp/browserd/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Loopback-only listener; the extension's origin is a
		// chrome-extension:// URL that never matches Host.
		return true
	},
}

const (
	// wsSendBuffer bounds queued outbound messages per client; overflow
	// closes the socket with a policy-violation code and the extension
	// reconnects.
	wsSendBuffer = 1000

	wsPingInterval = 30 * time.Second
	wsPongWait     = 60 * time.Second
	wsWriteWait    = 10 * time.Second
)

// wsMessage is the typed frame the extension sends: event, recording, or
// trace control.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// wsClient is one connected extension with its bounded send queue.
type wsClient struct {
	sessionID string
	sendCh    chan []byte
	overflow  chan struct{}
}

// Notify queues a server-to-extension message for every client bound to
// sessionID. A client whose buffer is full is closed with a
// policy-violation code; the extension reconnects.
func (s *Server) Notify(sessionID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.wsMu.Lock()
	clients := make([]*wsClient, 0, len(s.wsClients))
	for c := range s.wsClients {
		if c.sessionID == sessionID {
			clients = append(clients, c)
		}
	}
	s.wsMu.Unlock()

	for _, c := range clients {
		select {
		case c.sendCh <- data:
		default:
			select {
			case <-c.overflow:
			default:
				close(c.overflow)
			}
		}
	}
}

// handleWS upgrades the connection and runs the bidirectional event
// channel: server pings, client pongs, client streams typed messages.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("ws upgrade failed: %v", err)
		return
	}
	s.log.Printf("extension connected for session %s", sess.ID()[:8])

	client := &wsClient{
		sessionID: sess.ID(),
		sendCh:    make(chan []byte, wsSendBuffer),
		overflow:  make(chan struct{}),
	}
	s.wsMu.Lock()
	s.wsClients[client] = struct{}{}
	s.wsMu.Unlock()
	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, client)
		s.wsMu.Unlock()
	}()

	sendCh := client.sendCh
	done := make(chan struct{})

	// Writer: pings plus queued outbound messages.
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		defer conn.Close()
		for {
			select {
			case msg := <-sendCh:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-client.overflow:
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "send buffer overflow"),
					time.Now().Add(wsWriteWait))
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Printf("ws read error for session %s: %v", sess.ID()[:8], err)
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		s.dispatchWSMessage(sess.ID(), msg)
		sess.Touch()
	}
}

// dispatchWSMessage routes one typed frame from the extension.
func (s *Server) dispatchWSMessage(sessionID string, msg wsMessage) {
	sess := s.pool.Lookup(sessionID)
	if sess == nil {
		return
	}
	switch msg.Type {
	case "event":
		var ev extensionEvent
		if json.Unmarshal(msg.Data, &ev) != nil {
			return
		}
		if !s.limiter.Allow(sessionID) {
			return
		}
		sess.Collectors.Extension.Ingest(ev.Type, ev.Data)
	case "recording":
		s.handleWSRecording(sess, msg.Data)
	case "trace":
		s.handleWSTrace(sess, msg.Data)
	default:
		s.log.Printf("unknown ws message type %q", msg.Type)
	}
}

type wsControl struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

func (s *Server) handleWSRecording(sess *session.Session, raw json.RawMessage) {
	var ctl wsControl
	if json.Unmarshal(raw, &ctl) != nil {
		return
	}
	switch ctl.Action {
	case "start":
		var p recordingStartParams
		json.Unmarshal(ctl.Data, &p)
		if _, err := s.rec.start(sess, p); err != nil {
			s.log.Printf("ws recording start failed: %v", err)
		}
	case "stop":
		if _, err := s.rec.stop(sess); err != nil {
			s.log.Printf("ws recording stop failed: %v", err)
		}
	case "frame":
		var up frameUpload
		if json.Unmarshal(ctl.Data, &up) != nil {
			return
		}
		data, err := base64.StdEncoding.DecodeString(up.Data)
		if err != nil {
			return
		}
		if _, err := s.rec.frame(sess, data); err != nil {
			s.log.Printf("ws frame write failed: %v", err)
		}
	}
}

func (s *Server) handleWSTrace(sess *session.Session, raw json.RawMessage) {
	var ctl wsControl
	if json.Unmarshal(raw, &ctl) != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	switch ctl.Action {
	case "start":
		if _, err := s.h.TraceStart(ctx, sess); err != nil {
			s.log.Printf("ws trace start failed: %v", err)
		}
	case "stop":
		if _, err := s.h.TraceStop(ctx, sess); err != nil {
			s.log.Printf("ws trace stop failed: %v", err)
		}
	}
}
