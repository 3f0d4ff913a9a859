package model

// ArtifactKind distinguishes the file types a session accumulates on disk.
type ArtifactKind string

const (
	ArtifactScreenshot ArtifactKind = "screenshot"
	ArtifactRecording  ArtifactKind = "recording"
	ArtifactTrace      ArtifactKind = "trace"
	ArtifactExport     ArtifactKind = "export"
)

// Artifact describes a file the session owns under its storage directory.
// Lifecycle is tied to the session: removed when the session is destroyed
// or explicitly cleaned, never persisted past that.
type Artifact struct {
	Kind      ArtifactKind `json:"kind"`
	SessionID string       `json:"session_id"`
	Path      string       `json:"path"`
	SizeBytes int64        `json:"size_bytes"`
	CreatedAt int64        `json:"created_at_ms"`
}
