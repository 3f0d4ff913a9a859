// Package session manages the lifecycle of browser sessions: launch,
// attach, keep-alive, reconnect bookkeeping, and retirement.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/localcdp/browserd/internal/browser"
	"github.com/localcdp/browserd/internal/cdp"
	"github.com/localcdp/browserd/internal/collectors"
	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/refs"
	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/store"
)

// Session owns one browser process, its CDP connection, storage
// directory, event store, ref registry slice, and collector set.
type Session struct {
	mu   sync.Mutex
	meta model.Session

	Browser    *browser.Instance
	Transport  *cdp.Transport
	Store      *store.Store
	Collectors *collectors.Set
	Refs       *refs.Registry

	pageSessionID string
	pages         []model.Page

	// holdsSlot marks sessions counted against the pool's session cap;
	// recovered orphans never acquired one.
	holdsSlot bool

	// busy serializes operations that mutate global browser state
	// (tracing, emulation, navigation).
	busy sync.Mutex

	// describeMu serializes concurrent describes; the last publish wins.
	describeMu sync.Mutex
}

// WithDescribe serializes describe enumerations on this session.
func (s *Session) WithDescribe(fn func() error) error {
	s.describeMu.Lock()
	defer s.describeMu.Unlock()
	return fn()
}

// Meta returns a snapshot of the session's metadata.
func (s *Session) Meta() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

func (s *Session) ID() string { return s.meta.ID }

// Status returns the session's current lifecycle state.
func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Status
}

func (s *Session) setStatus(st model.SessionStatus) {
	s.mu.Lock()
	s.meta.Status = st
	s.mu.Unlock()
}

// Touch records activity, deferring idle reaping.
func (s *Session) Touch() {
	s.mu.Lock()
	s.meta.LastActivityAt = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the most recent activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.LastActivityAt
}

// Generation returns the current page generation; refs published under
// older generations are expired.
func (s *Session) Generation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.PageGeneration
}

// BumpGeneration advances the page generation and invalidates all
// published refs. Called on every navigation or reload.
func (s *Session) BumpGeneration() {
	s.mu.Lock()
	s.meta.PageGeneration++
	s.mu.Unlock()
	s.Refs.Invalidate(s.meta.ID)
}

// ResolveRef resolves a ref id against the current generation.
func (s *Session) ResolveRef(refID string) (string, error) {
	return s.Refs.Resolve(s.meta.ID, refID, s.Generation())
}

// PublishRefs replaces the session's ref table under the current
// generation.
func (s *Session) PublishRefs(entries []model.RefEntry) {
	s.Refs.Publish(s.meta.ID, s.Generation(), entries)
}

// CallPage issues a CDP command scoped to the session's active page
// target. Fails SessionGone when the session is no longer active.
func (s *Session) CallPage(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	status := s.meta.Status
	target := s.pageSessionID
	s.mu.Unlock()
	if status != model.StatusActive && status != model.StatusBusy {
		return nil, rpcerr.New(rpcerr.SessionGone, "session %s is %s", s.meta.ID, status)
	}
	return s.Transport.Call(ctx, method, params, target)
}

// CallBrowser issues a browser-level CDP command (no target scope), used
// for process-global domains like Tracing and Target.
func (s *Session) CallBrowser(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	status := s.meta.Status
	s.mu.Unlock()
	if status != model.StatusActive && status != model.StatusBusy {
		return nil, rpcerr.New(rpcerr.SessionGone, "session %s is %s", s.meta.ID, status)
	}
	return s.Transport.Call(ctx, method, params, "")
}

// WithExclusive runs fn while holding the session's busy lock; concurrent
// exclusive operations serialize. The session reads busy for the
// duration.
func (s *Session) WithExclusive(fn func() error) error {
	s.busy.Lock()
	defer s.busy.Unlock()
	if st := s.Status(); st != model.StatusActive {
		return rpcerr.New(rpcerr.SessionGone, "session %s is %s", s.meta.ID, st)
	}
	s.setStatus(model.StatusBusy)
	defer func() {
		if s.Status() == model.StatusBusy {
			s.setStatus(model.StatusActive)
		}
	}()
	return fn()
}

// Pages returns the session's known page list.
func (s *Session) Pages() []model.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Page, len(s.pages))
	copy(out, s.pages)
	return out
}

// setActivePage records the page list and the flat CDP session id of the
// active target. It does not check that targetID is in pages and does not
// change the session's status.
func (s *Session) setActivePage(pages []model.Page, targetID, pageSessionID string) {
	s.mu.Lock()
	s.pages = pages
	s.meta.ActivePageID = targetID
	s.pageSessionID = pageSessionID
	s.mu.Unlock()
}

// browserCaller adapts browser-level calls to the collectors.Caller
// interface, for collectors that drive process-global domains.
type browserCaller struct{ s *Session }

func (b browserCaller) CallPage(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return b.s.CallBrowser(ctx, method, params)
}
