package model

import "time"

// RecordingStatus is the lifecycle state of a screen recording.
type RecordingStatus string

const (
	RecordingActive   RecordingStatus = "active"
	RecordingComplete RecordingStatus = "complete"
)

// Recording tracks metadata for a screen-capture session; frames are
// stored externally as files under recordings/{id}/.
type Recording struct {
	ID         string          `json:"recording_id"`
	SessionID  string          `json:"session_id"`
	FPS        int             `json:"fps"`
	Quality    int             `json:"quality"`
	DPR        float64         `json:"dpr"`
	StartedAt  time.Time       `json:"start_ts"`
	EndedAt    *time.Time      `json:"end_ts,omitempty"`
	FrameCount int             `json:"frame_count"`
	Status     RecordingStatus `json:"status"`
}

// TraceStatus is the lifecycle state of a CDP performance trace.
type TraceStatus string

const (
	TraceActive   TraceStatus = "active"
	TraceComplete TraceStatus = "complete"
)

// Trace tracks metadata for one CDP Tracing session. CDP tracing is
// process-global, so at most one Trace may be active per browser.
type Trace struct {
	ID         string      `json:"trace_id"`
	SessionID  string      `json:"session_id"`
	StartedAt  time.Time   `json:"start_ts"`
	EndedAt    *time.Time  `json:"end_ts,omitempty"`
	EventCount int         `json:"event_count"`
	Status     TraceStatus `json:"status"`
	Path       string      `json:"path,omitempty"`
}
