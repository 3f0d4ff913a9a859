package model

// EventType enumerates the tagged record kinds C1 persists.
type EventType string

const (
	EventClick      EventType = "click"
	EventInput      EventType = "input"
	EventSelect     EventType = "select"
	EventHover      EventType = "hover"
	EventScroll     EventType = "scroll"
	EventKeypress   EventType = "keypress"
	EventScreenshot EventType = "screenshot"
	EventSnapshot   EventType = "snapshot"
	EventDialog     EventType = "dialog"
	EventNavigate   EventType = "navigate"
	EventNetwork    EventType = "network"
	EventConsole    EventType = "console"
	EventError      EventType = "error"
	EventTrace      EventType = "trace"
)

// Event is the append-only record C1 stores for a session.
type Event struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Type        EventType `json:"type"`
	Data        []byte    `json:"data"`
	TimestampMs int64     `json:"timestamp_ms"`
}

// EventFilter narrows a C1 query.
type EventFilter struct {
	Types     []EventType
	SinceMs   int64
	UntilMs   int64
	Domain    string
	Status    int
	HasStatus bool
	Level     string
	Limit     int
	Offset    int
}

// ClickPayload is the wire shape of a click/hover/scroll user-action event.
type ClickPayload struct {
	AriaRole string     `json:"aria_role,omitempty"`
	AriaName string     `json:"aria_name,omitempty"`
	CSS      string     `json:"css"`
	XPath    string     `json:"xpath,omitempty"`
	Rect     [4]float64 `json:"rect"`
	URL      string     `json:"url"`
	TsMs     int64      `json:"ts"`
}

// NavigatePayload is the wire shape of a navigate event.
type NavigatePayload struct {
	URL  string `json:"url"`
	From string `json:"from,omitempty"`
	Type string `json:"type"` // load, pushState, popState, replaceState, page_load
	TsMs int64  `json:"ts"`
}

// NetworkTiming breaks down a completed request's phases.
type NetworkTiming struct {
	StartMs   float64 `json:"start"`
	DNSMs     float64 `json:"dns,omitempty"`
	ConnectMs float64 `json:"connect,omitempty"`
	TTFBMs    float64 `json:"ttfb"`
	TotalMs   float64 `json:"total"`
}

// NetworkPayload is the wire shape of a network event.
type NetworkPayload struct {
	URL       string        `json:"url"`
	Method    string        `json:"method"`
	Status    int           `json:"status"`
	MimeType  string        `json:"mime"`
	Size      int64         `json:"size"`
	Timing    NetworkTiming `json:"timing"`
	Initiator string        `json:"initiator,omitempty"`
}

// ConsolePayload is the wire shape of a console event.
type ConsolePayload struct {
	Level  string `json:"level"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	URL    string `json:"url,omitempty"`
}

// ErrorPayload records a degraded-service notice raised internally by a
// collector, never by a handler.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
