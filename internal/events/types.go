package events

// Event type constants for kelindar/event.
const (
	TypeStreamStateChanged uint32 = iota + 1
	TypeStreamError
	TypeEncoderStats
	TypeAssetChanged
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StreamStateChangedEvent is published on every Idle/Streaming transition.
type StreamStateChangedEvent struct {
	SessionID string `json:"session_id" example:"6f1c2b0e-8a5e-4f7c-9d6b-2f0f6c1d9a11" doc:"Stream session identifier"`
	State     string `json:"state" example:"streaming" enum:"idle,streaming" doc:"New controller state"`
	Source    string `json:"source,omitempty" example:"file:/tmp/clip.mp4" doc:"Source descriptor"`
	Egress    string `json:"egress,omitempty" example:"pipe" doc:"Egress mode, empty when preview only"`
	Reason    string `json:"reason,omitempty" example:"end_of_stream" doc:"Why the stream stopped"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStateChangedEvent.
func (e StreamStateChangedEvent) Type() uint32 { return TypeStreamStateChanged }

// IsStreaming reports whether the event announces the Streaming state.
func (e StreamStateChangedEvent) IsStreaming() bool { return e.State == "streaming" }

// StreamErrorEvent is published when start, read, egress or cleanup fails.
type StreamErrorEvent struct {
	SessionID string `json:"session_id,omitempty" doc:"Stream session identifier"`
	Code      string `json:"code" example:"OPEN_FAILURE" doc:"Stable error code"`
	Message   string `json:"message" example:"source could not be opened" doc:"Error message"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamErrorEvent.
func (e StreamErrorEvent) Type() uint32 { return TypeStreamError }

// EncoderStatsEvent carries encoder progress.
type EncoderStatsEvent struct {
	SessionID string  `json:"session_id"`
	Frame     int64   `json:"frame"`
	FPS       float64 `json:"fps"`
	Bitrate   float64 `json:"bitrate_kbps"`
	Dropped   int64   `json:"dropped_frames"`
	Speed     float64 `json:"speed"`
}

// Type returns the event type identifier for EncoderStatsEvent.
func (e EncoderStatsEvent) Type() uint32 { return TypeEncoderStats }

// AssetChangedEvent is published when an upload is stored or deleted.
type AssetChangedEvent struct {
	Path      string `json:"path" doc:"Temporary file path"`
	Action    string `json:"action" example:"acquired" enum:"acquired,released" doc:"Action type"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for AssetChangedEvent.
func (e AssetChangedEvent) Type() uint32 { return TypeAssetChanged }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
