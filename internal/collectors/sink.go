// Package collectors converts CDP and extension event streams into event
// store records. Collectors never propagate errors to the handler path;
// failures are logged and surfaced as error store events.
package collectors

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/localcdp/browserd/internal/logging"
	"github.com/localcdp/browserd/internal/model"
)

// Appender is the slice of the event store the sink writes through.
type Appender interface {
	AppendRaw(ctx context.Context, eventType model.EventType, data []byte, tsMs int64) (int64, error)
}

const (
	// maxBuffered is how many events a session's sink retains while the
	// store is unavailable; beyond that the oldest are dropped.
	maxBuffered = 10000

	appendTimeout = 5 * time.Second
)

var retryInterval = 500 * time.Millisecond

type queued struct {
	eventType model.EventType
	data      []byte
	tsMs      int64
}

// Sink is the single write path from a session's collectors into its
// store. Writes are asynchronous; when the store fails the sink buffers
// up to maxBuffered events, drops oldest-first past that, and emits one
// StorageDegraded error event when service resumes.
type Sink struct {
	store Appender
	log   *logging.Logger

	mu       sync.Mutex
	buf      []queued
	degraded bool
	dropped  int

	notify chan struct{}
	closed chan struct{}
	wg     sync.WaitGroup
}

func NewSink(st Appender) *Sink {
	s := &Sink{
		store:  st,
		log:    logging.New("sink"),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drainLoop()
	return s
}

// Emit queues one event for durable append. Never blocks beyond the
// buffer mutex and never returns an error to the caller.
func (s *Sink) Emit(eventType model.EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Printf("dropping unmarshalable %s event: %v", eventType, err)
		return
	}
	s.mu.Lock()
	if len(s.buf) >= maxBuffered {
		s.buf = s.buf[1:]
		s.dropped++
	}
	s.buf = append(s.buf, queued{eventType: eventType, data: data, tsMs: time.Now().UnixMilli()})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Sink) drainLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.notify:
		case <-s.closed:
			s.drainOnce()
			return
		}
		s.drainOnce()
	}
}

func (s *Sink) drainOnce() {
	for {
		s.mu.Lock()
		if len(s.buf) == 0 {
			s.mu.Unlock()
			return
		}
		head := s.buf[0]
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		_, err := s.store.AppendRaw(ctx, head.eventType, head.data, head.tsMs)
		cancel()

		if err != nil {
			s.mu.Lock()
			if !s.degraded {
				s.degraded = true
				s.log.Printf("store unavailable, buffering events: %v", err)
			}
			s.mu.Unlock()
			select {
			case <-time.After(retryInterval):
				continue
			case <-s.closed:
				return
			}
		}

		s.mu.Lock()
		s.buf = s.buf[1:]
		wasDegraded, dropped := s.degraded, s.dropped
		if wasDegraded {
			s.degraded = false
			s.dropped = 0
		}
		s.mu.Unlock()

		if wasDegraded {
			s.emitDegradedNotice(dropped)
		}
	}
}

func (s *Sink) emitDegradedNotice(dropped int) {
	payload := model.ErrorPayload{
		Kind:    "StorageDegraded",
		Message: "event store was unavailable",
	}
	if dropped > 0 {
		payload.Message = "event store was unavailable; oldest events dropped"
	}
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if _, err := s.store.AppendRaw(ctx, model.EventError, data, time.Now().UnixMilli()); err != nil {
		s.log.Printf("recording StorageDegraded notice failed: %v", err)
	}
}

// Close flushes what it can and stops the drain goroutine.
func (s *Sink) Close() {
	close(s.closed)
	s.wg.Wait()
}
