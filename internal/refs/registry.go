// Package refs maps AI-agent element references (i0, f1, ...) back to
// resolvable CSS selectors, scoped to a session and invalidated whenever
// the page generation advances.
package refs

import (
	"strconv"
	"strings"
	"sync"

	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/rpcerr"
)

var validPrefixes = map[byte]model.RefCategory{
	'i': model.CategoryInteractive,
	'f': model.CategoryForm,
	'n': model.CategoryNavigation,
	'm': model.CategoryMedia,
	't': model.CategoryText,
	'c': model.CategoryContainer,
}

// Generate builds a ref id from a category prefix and a per-category
// zero-based index: i0, f1, n12.
func Generate(category model.RefCategory, index int) string {
	return category.Prefix() + strconv.Itoa(index)
}

// table is one session's published ref set, replaced wholesale by Publish.
type table struct {
	generation int64
	entries    map[string]model.RefEntry
}

// Registry holds the ref tables for all sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*table
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*table)}
}

// Publish atomically replaces the session's ref table with entries,
// recorded under pageGeneration. Entries with an empty selector are
// omitted, never stored. Concurrent publishers serialize; last one wins.
func (r *Registry) Publish(sessionID string, pageGeneration int64, entries []model.RefEntry) {
	t := &table{generation: pageGeneration, entries: make(map[string]model.RefEntry, len(entries))}
	for _, e := range entries {
		if e.Selector == "" {
			continue
		}
		t.entries[e.RefID] = e
	}
	r.mu.Lock()
	r.sessions[sessionID] = t
	r.mu.Unlock()
}

// Resolve returns the selector for refID if its entry was published under
// currentGeneration. A malformed or unknown-prefix ref fails RefInvalid;
// a well-formed ref from a stale generation (or never published) fails
// RefExpired.
func (r *Registry) Resolve(sessionID, refID string, currentGeneration int64) (string, error) {
	if !WellFormed(refID) {
		return "", rpcerr.New(rpcerr.RefInvalid, "malformed ref %q", refID)
	}

	r.mu.RLock()
	t := r.sessions[sessionID]
	r.mu.RUnlock()

	if t == nil || t.generation != currentGeneration {
		return "", rpcerr.New(rpcerr.RefExpired, "ref %q is from a previous page; run describe again", refID)
	}
	e, ok := t.entries[refID]
	if !ok {
		return "", rpcerr.New(rpcerr.RefExpired, "ref %q not found in current page; run describe again", refID)
	}
	return e.Selector, nil
}

// Invalidate drops the session's ref table. Callers bump the session's
// page generation on navigation; dropping the table makes the stale
// generation unreachable either way.
func (r *Registry) Invalidate(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Drop removes all state for a destroyed session. Idempotent.
func (r *Registry) Drop(sessionID string) {
	r.Invalidate(sessionID)
}

// WellFormed reports whether refID is a known prefix followed by a
// decimal index.
func WellFormed(refID string) bool {
	if len(refID) < 2 {
		return false
	}
	if _, ok := validPrefixes[refID[0]]; !ok {
		return false
	}
	rest := refID[1:]
	if strings.TrimLeft(rest, "0123456789") != "" {
		return false
	}
	return true
}
