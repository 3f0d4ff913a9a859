package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localcdp/browserd/internal/config"
	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/store"
)

func newTestPool(t *testing.T) (*Pool, string) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Server.SocketPath = filepath.Join(base, "browserd.sock")
	pool, err := NewPool(cfg, filepath.Join(base, "sessions"))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, base
}

func TestLookupUnknownSession(t *testing.T) {
	pool, _ := newTestPool(t)
	require.Nil(t, pool.Lookup("nope"))
}

func TestReleaseUnknownSessionIsIdempotent(t *testing.T) {
	pool, _ := newTestPool(t)
	require.NoError(t, pool.Release("nope"))
	require.NoError(t, pool.Release("nope"))
}

func TestRecoverOrphansAsDetached(t *testing.T) {
	base := t.TempDir()
	sessionsDir := filepath.Join(base, "sessions")
	orphanID := "0f8a2d11-59f3-4e4e-9e6e-0123456789ab"
	orphanDir := filepath.Join(sessionsDir, orphanID)
	require.NoError(t, os.MkdirAll(orphanDir, 0o755))

	st, err := store.Open(context.Background(), filepath.Join(orphanDir, "events.db"))
	require.NoError(t, err)
	_, err = st.Append(context.Background(), model.EventClick, map[string]any{"css": "#a"}, 123)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cfg := config.Default()
	cfg.Server.SocketPath = filepath.Join(base, "browserd.sock")
	pool, err := NewPool(cfg, sessionsDir)
	require.NoError(t, err)
	defer pool.Close()

	s := pool.Lookup(orphanID)
	require.NotNil(t, s)
	require.Equal(t, model.StatusDetached, s.Status())

	// The recovered store stays queryable.
	events, err := s.Store.Query(context.Background(), model.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRecoveredSessionIsNeverMatchedByAcquireLookup(t *testing.T) {
	base := t.TempDir()
	sessionsDir := filepath.Join(base, "sessions")
	orphanID := "0f8a2d11-59f3-4e4e-9e6e-0123456789ab"
	require.NoError(t, os.MkdirAll(filepath.Join(sessionsDir, orphanID), 0o755))
	st, err := store.Open(context.Background(), filepath.Join(sessionsDir, orphanID, "events.db"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cfg := config.Default()
	cfg.Server.SocketPath = filepath.Join(base, "browserd.sock")
	pool, err := NewPool(cfg, sessionsDir)
	require.NoError(t, err)
	defer pool.Close()

	// A detached session never satisfies a matching acquire.
	pool.mu.Lock()
	match := pool.findMatchingLocked(model.KindEphemeral, "")
	pool.mu.Unlock()
	require.Nil(t, match)
}

func TestReleaseRecoveredOrphan(t *testing.T) {
	base := t.TempDir()
	sessionsDir := filepath.Join(base, "sessions")
	orphanID := "11111111-2222-3333-4444-555555555555"
	require.NoError(t, os.MkdirAll(filepath.Join(sessionsDir, orphanID), 0o755))
	st, err := store.Open(context.Background(), filepath.Join(sessionsDir, orphanID, "events.db"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cfg := config.Default()
	cfg.Server.SocketPath = filepath.Join(base, "browserd.sock")
	pool, err := NewPool(cfg, sessionsDir)
	require.NoError(t, err)
	defer pool.Close()

	require.NotNil(t, pool.Lookup(orphanID))
	require.NoError(t, pool.Release(orphanID))
	require.Nil(t, pool.Lookup(orphanID))

	// The storage directory is gone and a second release is a no-op.
	_, statErr := os.Stat(filepath.Join(sessionsDir, orphanID))
	require.True(t, os.IsNotExist(statErr))
	require.NoError(t, pool.Release(orphanID))
}

func TestCreationKey(t *testing.T) {
	require.Equal(t, "user-profile:/home/x/.profile", creationKey(model.KindUserProfile, "/home/x/.profile"))
	require.Equal(t, "ephemeral", creationKey(model.KindEphemeral, "anything-ignored"))
}

func TestSessionGenerationAndRefLifecycle(t *testing.T) {
	pool, _ := newTestPool(t)
	s := &Session{
		meta: model.Session{ID: "test-session", Status: model.StatusActive},
		Refs: pool.Refs(),
	}
	s.PublishRefs([]model.RefEntry{{RefID: "i0", Selector: "#go"}})

	sel, err := s.ResolveRef("i0")
	require.NoError(t, err)
	require.Equal(t, "#go", sel)

	s.BumpGeneration()
	_, err = s.ResolveRef("i0")
	require.Error(t, err)
}

func TestWithExclusiveSetsBusy(t *testing.T) {
	s := &Session{meta: model.Session{ID: "x", Status: model.StatusActive}}
	err := s.WithExclusive(func() error {
		require.Equal(t, model.StatusBusy, s.Status())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, s.Status())
}

func TestWithExclusiveOnDetachedSession(t *testing.T) {
	s := &Session{meta: model.Session{ID: "x", Status: model.StatusDetached}}
	err := s.WithExclusive(func() error { return nil })
	require.Error(t, err)
}
