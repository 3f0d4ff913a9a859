package collectors

import (
	"encoding/json"
	"sync"

	"github.com/localcdp/browserd/internal/model"
)

// maxInflight bounds the request-correlation map; past it the oldest
// entry is evicted and an error event recorded.
const maxInflight = 5000

type inflightRequest struct {
	requestID string
	url       string
	method    string
	initiator string
	startTs   float64

	status int
	mime   string
	timing model.NetworkTiming
}

// Network joins Network.requestWillBeSent / responseReceived /
// loadingFinished / loadingFailed by CDP request id and emits one network
// store event per terminal event.
type Network struct {
	sink *Sink

	mu       sync.Mutex
	inflight map[string]*inflightRequest
	order    []string
}

func NewNetwork(sink *Sink) *Network {
	return &Network{sink: sink, inflight: make(map[string]*inflightRequest)}
}

// Domains lists the CDP domains this collector needs enabled.
func (n *Network) Domains() []string { return []string{"Network"} }

// Events maps CDP event names to their handlers for subscription.
func (n *Network) Events() map[string]func(json.RawMessage) {
	return map[string]func(json.RawMessage){
		"Network.requestWillBeSent": n.onRequestWillBeSent,
		"Network.responseReceived":  n.onResponseReceived,
		"Network.loadingFinished":   n.onLoadingFinished,
		"Network.loadingFailed":     n.onLoadingFailed,
	}
}

func (n *Network) onRequestWillBeSent(params json.RawMessage) {
	var p struct {
		RequestID string  `json:"requestId"`
		Timestamp float64 `json:"timestamp"`
		Request   struct {
			URL    string `json:"url"`
			Method string `json:"method"`
		} `json:"request"`
		Initiator struct {
			Type string `json:"type"`
		} `json:"initiator"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}

	n.mu.Lock()
	if len(n.inflight) >= maxInflight {
		n.evictOldestLocked()
	}
	if _, exists := n.inflight[p.RequestID]; !exists {
		n.order = append(n.order, p.RequestID)
	}
	n.inflight[p.RequestID] = &inflightRequest{
		requestID: p.RequestID,
		url:       p.Request.URL,
		method:    p.Request.Method,
		initiator: p.Initiator.Type,
		startTs:   p.Timestamp,
	}
	n.mu.Unlock()
}

func (n *Network) onResponseReceived(params json.RawMessage) {
	var p struct {
		RequestID string `json:"requestId"`
		Response  struct {
			Status   int    `json:"status"`
			MimeType string `json:"mimeType"`
			Timing   *struct {
				DNSStart          float64 `json:"dnsStart"`
				DNSEnd            float64 `json:"dnsEnd"`
				ConnectStart      float64 `json:"connectStart"`
				ConnectEnd        float64 `json:"connectEnd"`
				SendEnd           float64 `json:"sendEnd"`
				ReceiveHeadersEnd float64 `json:"receiveHeadersEnd"`
			} `json:"timing"`
		} `json:"response"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	req, ok := n.inflight[p.RequestID]
	if !ok {
		return
	}
	req.status = p.Response.Status
	req.mime = p.Response.MimeType
	if t := p.Response.Timing; t != nil {
		req.timing.StartMs = req.startTs * 1000
		if t.DNSEnd > 0 {
			req.timing.DNSMs = t.DNSEnd - t.DNSStart
		}
		if t.ConnectEnd > 0 {
			req.timing.ConnectMs = t.ConnectEnd - t.ConnectStart
		}
		req.timing.TTFBMs = t.ReceiveHeadersEnd - t.SendEnd
	}
}

func (n *Network) onLoadingFinished(params json.RawMessage) {
	var p struct {
		RequestID         string  `json:"requestId"`
		Timestamp         float64 `json:"timestamp"`
		EncodedDataLength float64 `json:"encodedDataLength"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	n.finish(p.RequestID, p.Timestamp, int64(p.EncodedDataLength))
}

func (n *Network) onLoadingFailed(params json.RawMessage) {
	var p struct {
		RequestID string  `json:"requestId"`
		Timestamp float64 `json:"timestamp"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	n.finish(p.RequestID, p.Timestamp, 0)
}

func (n *Network) finish(requestID string, endTs float64, size int64) {
	n.mu.Lock()
	req, ok := n.inflight[requestID]
	if ok {
		delete(n.inflight, requestID)
		n.removeFromOrderLocked(requestID)
	}
	n.mu.Unlock()
	if !ok {
		return
	}

	req.timing.TotalMs = (endTs - req.startTs) * 1000
	n.sink.Emit(model.EventNetwork, model.NetworkPayload{
		URL:       req.url,
		Method:    req.method,
		Status:    req.status,
		MimeType:  req.mime,
		Size:      size,
		Timing:    req.timing,
		Initiator: req.initiator,
	})
}

// InflightCount reports how many requests have started but not reached a
// terminal event; navigation's network-idle wait polls this.
func (n *Network) InflightCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight)
}

func (n *Network) evictOldestLocked() {
	if len(n.order) == 0 {
		return
	}
	oldest := n.order[0]
	n.order = n.order[1:]
	delete(n.inflight, oldest)
	n.sink.Emit(model.EventError, model.ErrorPayload{
		Kind:    "NetworkMapOverflow",
		Message: "in-flight request map full, oldest entry evicted",
	})
}

func (n *Network) removeFromOrderLocked(requestID string) {
	for i, id := range n.order {
		if id == requestID {
			n.order = append(n.order[:i], n.order[i+1:]...)
			return
		}
	}
}
