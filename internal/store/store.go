// Package store implements the per-session append-only event log (C1): a
// WAL-mode SQLite database, one file per session, with an opportunistic
// batching writer. Schema and pragmas follow original_source's
// event_store.rs; the per-session-database shape adapts
// g960059-agtmux's single-global-db Open() pattern to one *sql.DB per
// session.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/localcdp/browserd/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	data BLOB NOT NULL,
	ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_ms);
`

const (
	batchMaxEvents = 50
	batchMaxWait   = 25 * time.Millisecond
)

// pendingWrite is one queued append, with a channel to deliver its id or
// error back to the caller once the batch flushes.
type pendingWrite struct {
	eventType model.EventType
	data      []byte
	tsMs      int64
	result    chan<- writeResult
}

type writeResult struct {
	id  int64
	err error
}

// Store is the event log for a single session.
type Store struct {
	db   *sql.DB
	path string

	writeCh chan pendingWrite
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Open opens (creating if absent) the events.db file at path and starts
// its batching writer goroutine.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening event store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema in %s: %w", path, err)
	}

	s := &Store{
		db:      db,
		path:    path,
		writeCh: make(chan pendingWrite, 10000),
		closeCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// Append queues a new event and blocks until it's durably written,
// returning its monotonic id. Never blocks concurrent callers beyond the
// batching write barrier.
func (s *Store) Append(ctx context.Context, eventType model.EventType, payload any, tsMs int64) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}
	return s.AppendRaw(ctx, eventType, data, tsMs)
}

// AppendRaw appends an already-marshaled payload.
func (s *Store) AppendRaw(ctx context.Context, eventType model.EventType, data []byte, tsMs int64) (int64, error) {
	resultCh := make(chan writeResult, 1)
	select {
	case s.writeCh <- pendingWrite{eventType: eventType, data: data, tsMs: tsMs, result: resultCh}:
	case <-s.closeCh:
		return 0, fmt.Errorf("event store closed")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resultCh:
		return r.id, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// writeLoop coalesces up to batchMaxEvents writes or batchMaxWait,
// whichever comes first, into a single transaction.
func (s *Store) writeLoop() {
	defer s.wg.Done()
	batch := make([]pendingWrite, 0, batchMaxEvents)
	timer := time.NewTimer(batchMaxWait)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case pw := <-s.writeCh:
			batch = append(batch, pw)
			if len(batch) >= batchMaxEvents {
				flush()
				timer.Reset(batchMaxWait)
			}
		case <-timer.C:
			flush()
			timer.Reset(batchMaxWait)
		case <-s.closeCh:
			flush()
			return
		}
	}
}

func (s *Store) flushBatch(batch []pendingWrite) {
	tx, err := s.db.Begin()
	if err != nil {
		for _, pw := range batch {
			pw.result <- writeResult{err: fmt.Errorf("begin tx: %w", err)}
		}
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO events (event_type, data, ts_ms) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		for _, pw := range batch {
			pw.result <- writeResult{err: fmt.Errorf("prepare insert: %w", err)}
		}
		return
	}
	ids := make([]int64, len(batch))
	for i, pw := range batch {
		res, err := stmt.Exec(string(pw.eventType), pw.data, pw.tsMs)
		if err != nil {
			stmt.Close()
			tx.Rollback()
			for _, p := range batch {
				p.result <- writeResult{err: fmt.Errorf("insert event: %w", err)}
			}
			return
		}
		id, _ := res.LastInsertId()
		ids[i] = id
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		for _, pw := range batch {
			pw.result <- writeResult{err: fmt.Errorf("commit tx: %w", err)}
		}
		return
	}
	for i, pw := range batch {
		pw.result <- writeResult{id: ids[i]}
	}
}

// Query returns events matching filter, ordered by id ascending.
func (s *Store) Query(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	var where []string
	var args []any

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SinceMs > 0 {
		where = append(where, "ts_ms >= ?")
		args = append(args, filter.SinceMs)
	}
	if filter.UntilMs > 0 {
		where = append(where, "ts_ms <= ?")
		args = append(args, filter.UntilMs)
	}

	query := "SELECT id, event_type, data, ts_ms FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var eventType string
		if err := rows.Scan(&e.ID, &eventType, &e.Data, &e.TimestampMs); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.Type = model.EventType(eventType)
		events = append(events, filterPostSQL(e, filter))
	}
	// filterPostSQL may have marked rows for exclusion by zeroing ID; drop them.
	out := events[:0]
	for _, e := range events {
		if e.ID != 0 {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

// filterPostSQL applies the domain/status/level filters that require
// peeking into the JSON payload, which query() can't express as SQL
// without a schema-specific JSON index. Matching rows are returned
// unchanged; non-matching rows have their ID zeroed as an exclusion
// marker for the caller's final pass.
func filterPostSQL(e model.Event, filter model.EventFilter) model.Event {
	if filter.Domain == "" && !filter.HasStatus && filter.Level == "" {
		return e
	}
	switch e.Type {
	case model.EventNetwork:
		var p model.NetworkPayload
		if json.Unmarshal(e.Data, &p) != nil {
			return model.Event{}
		}
		if filter.Domain != "" && !strings.Contains(p.URL, filter.Domain) {
			return model.Event{}
		}
		if filter.HasStatus && p.Status != filter.Status {
			return model.Event{}
		}
	case model.EventConsole:
		var p model.ConsolePayload
		if json.Unmarshal(e.Data, &p) != nil {
			return model.Event{}
		}
		if filter.Level != "" && !strings.EqualFold(p.Level, filter.Level) {
			return model.Event{}
		}
	default:
		if filter.Domain != "" || filter.HasStatus || filter.Level != "" {
			return model.Event{}
		}
	}
	return e
}

// Count returns the number of events matching filter.
func (s *Store) Count(ctx context.Context, filter model.EventFilter) (int64, error) {
	events, err := s.Query(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(events)), nil
}

// Delete removes all rows. Idempotent.
func (s *Store) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM events")
	if err != nil {
		return fmt.Errorf("deleting events: %w", err)
	}
	return nil
}

// Close stops the writer goroutine, flushing any pending batch, and
// closes the underlying database handle.
func (s *Store) Close() error {
	close(s.closeCh)
	s.wg.Wait()
	return s.db.Close()
}
