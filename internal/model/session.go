package model

import "time"

// SessionKind distinguishes a disposable session from the single
// persistent session bound to a user's OS profile directory.
type SessionKind string

const (
	KindEphemeral   SessionKind = "ephemeral"
	KindUserProfile SessionKind = "user-profile"
)

// SessionStatus is the session's position in the C4 state machine:
// launching -> active <-> busy -> detached -> destroyed.
type SessionStatus string

const (
	StatusLaunching SessionStatus = "launching"
	StatusActive    SessionStatus = "active"
	StatusBusy      SessionStatus = "busy"
	StatusDetached  SessionStatus = "detached"
	StatusDestroyed SessionStatus = "destroyed"
)

// Session is the C4 Session Pool's unit of ownership: a browser process,
// its CDP endpoint, storage directory, and last-activity bookkeeping.
type Session struct {
	ID             string        `json:"id"`
	Kind           SessionKind   `json:"kind"`
	Profile        string        `json:"profile,omitempty"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	CDPPort        int           `json:"cdp_port"`
	CDPEndpoint    string        `json:"cdp_endpoint"`
	ActivePageID   string        `json:"active_page_id,omitempty"`
	PageGeneration int64         `json:"page_generation"`
	StorageDir     string        `json:"storage_dir"`
	Headless       bool          `json:"headless"`
	Tracing        bool          `json:"tracing"`
	DialogBehavior string        `json:"dialog_behavior"`
}

// Page is one CDP target (tab) within a session.
type Page struct {
	Index    int    `json:"index"`
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Active   bool   `json:"active"`
}
