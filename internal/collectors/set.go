package collectors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/localcdp/browserd/internal/cdp"
	"github.com/localcdp/browserd/internal/logging"
)

// CDPCollector is the shared attach protocol: the domains a collector
// needs enabled and the CDP events it consumes.
type CDPCollector interface {
	Domains() []string
	Events() map[string]func(json.RawMessage)
}

// Set owns a session's collector instances and their transport
// subscriptions, bound to the session lifecycle.
type Set struct {
	Sink      *Sink
	Network   *Network
	Console   *Console
	Dialog    *Dialog
	Trace     *Trace
	Extension *Extension

	log          *logging.Logger
	unsubscribes []func()
}

// NewSet wires a full collector set over a session's sink.
func NewSet(sink *Sink, dialog *Dialog, trace *Trace) *Set {
	return &Set{
		Sink:      sink,
		Network:   NewNetwork(sink),
		Console:   NewConsole(sink),
		Dialog:    dialog,
		Trace:     trace,
		Extension: NewExtension(sink),
		log:       logging.New("collectors"),
	}
}

// Attach enables the needed CDP domains on the session's active page and
// subscribes every collector's events on the transport.
func (s *Set) Attach(ctx context.Context, t *cdp.Transport, pageSessionID string) error {
	enabled := map[string]bool{}
	for _, c := range s.cdpCollectors() {
		for _, domain := range c.Domains() {
			if enabled[domain] {
				continue
			}
			enabled[domain] = true
			if _, err := t.Call(ctx, domain+".enable", map[string]any{}, pageSessionID); err != nil {
				s.Detach()
				return fmt.Errorf("enabling %s domain: %w", domain, err)
			}
		}
		for name, fn := range c.Events() {
			handler := fn
			unsub := t.Subscribe(name, func(ev cdp.Event) {
				handler(ev.Params)
			})
			s.unsubscribes = append(s.unsubscribes, unsub)
		}
	}
	return nil
}

// Detach drops all transport subscriptions. Idempotent.
func (s *Set) Detach() {
	for _, unsub := range s.unsubscribes {
		unsub()
	}
	s.unsubscribes = nil
}

// Close detaches and stops the sink's drain goroutine.
func (s *Set) Close() {
	s.Detach()
	s.Sink.Close()
}

func (s *Set) cdpCollectors() []CDPCollector {
	return []CDPCollector{s.Network, s.Console, s.Dialog, s.Trace}
}
