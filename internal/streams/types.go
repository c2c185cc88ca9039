package streams

import (
	"time"

	"github.com/smazurov/framecast/internal/capture"
	"github.com/smazurov/framecast/internal/egress"
	"github.com/smazurov/framecast/internal/events"
	"github.com/smazurov/framecast/internal/ffmpeg"
	"github.com/smazurov/framecast/internal/frame"
)

// State is the controller state.
type State string

// Controller states.
const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
)

// Stop reasons reported in events, metrics and logs.
const (
	ReasonStopped         = "stopped"
	ReasonEndOfStream     = "end_of_stream"
	ReasonReadFailure     = "read_failure"
	ReasonEncoderExited   = "encoder_exited"
	ReasonEncoderFinished = "encoder_finished"
)

// Settings are the egress parameters applied at the next Start. A running
// stream keeps the settings it started with.
type Settings struct {
	Egress bool                // push to the endpoint by default
	Mode   egress.Mode         // how the encoder gets video for file sources
	Params ffmpeg.StreamParams // endpoint, key and encoder options
}

// StartRequest selects what to stream.
type StartRequest struct {
	Source capture.Descriptor
	// Egress overrides Settings.Egress when set.
	Egress *bool
	// TempAsset is a path owned by the asset manager. It is released when the
	// session ends, or immediately when the request does not start a session.
	TempAsset string
}

// Session is a snapshot of the controller state.
type Session struct {
	ID         string    `json:"id,omitempty" doc:"Session identifier, empty when idle"`
	State      State     `json:"state" enum:"idle,streaming" doc:"Controller state"`
	Source     string    `json:"source,omitempty" example:"file:/tmp/clip.mp4" doc:"Source descriptor"`
	SourceKind string    `json:"source_kind,omitempty" enum:"file,device" doc:"Source kind"`
	Width      int       `json:"width,omitempty" doc:"Frame width"`
	Height     int       `json:"height,omitempty" doc:"Frame height"`
	Egress     string    `json:"egress,omitempty" enum:"source,pipe" doc:"Egress mode, empty when preview only"`
	EncoderPID int       `json:"encoder_pid,omitempty" doc:"Encoder process id"`
	TempAsset  string    `json:"temp_asset,omitempty" doc:"Uploaded file backing the stream"`
	StartedAt  time.Time `json:"started_at,omitzero" doc:"When the stream started"`
	FramesRead int64     `json:"frames_read" doc:"Frames delivered so far"`
}

// Streaming reports whether the snapshot is of a running session.
func (s Session) Streaming() bool { return s.State == StateStreaming }

// Display consumes display-order frames.
type Display interface {
	ShowFrame(f frame.Frame)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(frame.Frame)

// ShowFrame calls fn(f).
func (fn DisplayFunc) ShowFrame(f frame.Frame) { fn(f) }

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// AssetReleaser deletes temp assets. Satisfied by *assets.Manager.
type AssetReleaser interface {
	Release(path string) error
}

// EncoderStarter launches encoders. Satisfied by *egress.Encoder.
type EncoderStarter interface {
	Start(mode egress.Mode, sourcePath string, params ffmpeg.StreamParams, width, height int) (*egress.Handle, error)
}
