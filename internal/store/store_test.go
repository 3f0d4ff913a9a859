package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localcdp/browserd/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendReturnsMonotonicIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 20; i++ {
		id, err := s.Append(ctx, model.EventClick, map[string]any{"n": i}, time.Now().UnixMilli())
		require.NoError(t, err)
		require.Greater(t, id, last)
		last = id
	}
}

func TestQueryOrderedAscending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.Append(ctx, model.EventInput, map[string]any{"n": i}, int64(1000+i))
		require.NoError(t, err)
	}

	events, err := s.Query(ctx, model.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].ID, events[i-1].ID)
	}
}

func TestQueryFilterByType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, model.EventClick, map[string]any{}, 1000)
	require.NoError(t, err)
	_, err = s.Append(ctx, model.EventConsole, model.ConsolePayload{Level: "error", Text: "boom"}, 1001)
	require.NoError(t, err)
	_, err = s.Append(ctx, model.EventClick, map[string]any{}, 1002)
	require.NoError(t, err)

	events, err := s.Query(ctx, model.EventFilter{Types: []model.EventType{model.EventClick}})
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		require.Equal(t, model.EventClick, e.Type)
	}
}

func TestQueryTimeWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, ts := range []int64{100, 200, 300, 400} {
		_, err := s.Append(ctx, model.EventScroll, map[string]any{}, ts)
		require.NoError(t, err)
	}

	events, err := s.Query(ctx, model.EventFilter{SinceMs: 200, UntilMs: 300})
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestQueryDomainAndStatusFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, model.EventNetwork, model.NetworkPayload{URL: "https://example.test/a", Status: 200}, 1)
	require.NoError(t, err)
	_, err = s.Append(ctx, model.EventNetwork, model.NetworkPayload{URL: "https://other.test/b", Status: 404}, 2)
	require.NoError(t, err)

	events, err := s.Query(ctx, model.EventFilter{Domain: "example.test"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = s.Query(ctx, model.EventFilter{Status: 404, HasStatus: true})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestQueryLevelFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, model.EventConsole, model.ConsolePayload{Level: "error", Text: "boom"}, 1)
	require.NoError(t, err)
	_, err = s.Append(ctx, model.EventConsole, model.ConsolePayload{Level: "info", Text: "fine"}, 2)
	require.NoError(t, err)

	events, err := s.Query(ctx, model.EventFilter{Level: "error"})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestQueryLimitOffset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.Append(ctx, model.EventClick, map[string]any{"n": i}, int64(i))
		require.NoError(t, err)
	}

	events, err := s.Query(ctx, model.EventFilter{Limit: 3, Offset: 5})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, int64(6), events[0].ID)
}

func TestCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.Append(ctx, model.EventHover, map[string]any{}, int64(i))
		require.NoError(t, err)
	}
	n, err := s.Count(ctx, model.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

func TestDeleteIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, model.EventClick, map[string]any{}, 1)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx))
	require.NoError(t, s.Delete(ctx))

	n, err := s.Count(ctx, model.EventFilter{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConcurrentAppends(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const writers, perWriter = 8, 25
	errCh := make(chan error, writers)
	for w := 0; w < writers; w++ {
		go func() {
			for i := 0; i < perWriter; i++ {
				if _, err := s.Append(ctx, model.EventKeypress, map[string]any{}, time.Now().UnixMilli()); err != nil {
					errCh <- err
					return
				}
			}
			errCh <- nil
		}()
	}
	for w := 0; w < writers; w++ {
		require.NoError(t, <-errCh)
	}

	n, err := s.Count(ctx, model.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(writers*perWriter), n)
}
