package handlers

import (
	"context"
	"time"

	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// HistoryParams filter a session's event log.
type HistoryParams struct {
	Types  []string `json:"types,omitempty"`
	Last   string   `json:"last,omitempty"`
	Domain string   `json:"domain,omitempty"`
	Status int      `json:"status,omitempty"`
	Level  string   `json:"level,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

// HistoryEvent is one record shaped for client output.
type HistoryEvent struct {
	ID          int64           `json:"id"`
	Type        model.EventType `json:"type"`
	Data        any             `json:"data"`
	TimestampMs int64           `json:"timestamp_ms"`
}

// HistoryResult carries matched events plus the total match count.
type HistoryResult struct {
	Events []HistoryEvent `json:"events"`
	Count  int            `json:"count"`
}

func (p HistoryParams) toFilter() (model.EventFilter, error) {
	f := model.EventFilter{
		Domain: p.Domain,
		Level:  p.Level,
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	if p.Status != 0 {
		f.Status = p.Status
		f.HasStatus = true
	}
	for _, t := range p.Types {
		f.Types = append(f.Types, model.EventType(t))
	}
	if p.Last != "" {
		d, err := time.ParseDuration(p.Last)
		if err != nil {
			return f, rpcerr.New(rpcerr.InvalidParams, "bad duration %q", p.Last)
		}
		f.SinceMs = time.Now().Add(-d).UnixMilli()
	}
	return f, nil
}

// HistoryEvents queries the session's event log, ordered by ascending id.
func (h *H) HistoryEvents(ctx context.Context, s *session.Session, p HistoryParams) (*HistoryResult, error) {
	filter, err := p.toFilter()
	if err != nil {
		return nil, err
	}
	events, err := s.Store.Query(ctx, filter)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.StorageUnavailable, err, "querying history")
	}
	out := make([]HistoryEvent, 0, len(events))
	for _, e := range events {
		out = append(out, HistoryEvent{
			ID:          e.ID,
			Type:        e.Type,
			Data:        rawOrString(e.Data),
			TimestampMs: e.TimestampMs,
		})
	}
	return &HistoryResult{Events: out, Count: len(out)}, nil
}

// HistoryNetwork is HistoryEvents restricted to network records, with the
// domain/status filters applied.
func (h *H) HistoryNetwork(ctx context.Context, s *session.Session, p HistoryParams) (*HistoryResult, error) {
	p.Types = []string{string(model.EventNetwork)}
	return h.HistoryEvents(ctx, s, p)
}

// HistoryConsole is HistoryEvents restricted to console records, with the
// level filter applied.
func (h *H) HistoryConsole(ctx context.Context, s *session.Session, p HistoryParams) (*HistoryResult, error) {
	p.Types = []string{string(model.EventConsole)}
	return h.HistoryEvents(ctx, s, p)
}

// HistoryCount returns the number of matching events without their
// payloads.
func (h *H) HistoryCount(ctx context.Context, s *session.Session, p HistoryParams) (int64, error) {
	filter, err := p.toFilter()
	if err != nil {
		return 0, err
	}
	n, err := s.Store.Count(ctx, filter)
	if err != nil {
		return 0, rpcerr.Wrap(rpcerr.StorageUnavailable, err, "counting history")
	}
	return n, nil
}

// rawOrString passes stored JSON payloads through untouched so clients
// see structured data, falling back to a string for non-JSON blobs.
func rawOrString(data []byte) any {
	if len(data) > 0 && (data[0] == '{' || data[0] == '[' || data[0] == '"') {
		return jsonRaw(data)
	}
	return string(data)
}

type jsonRaw []byte

func (r jsonRaw) MarshalJSON() ([]byte, error) { return r, nil }
