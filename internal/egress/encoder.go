// Package egress runs the external encoder that pushes a stream to an RTMP(S) endpoint.
package egress

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/framecast/internal/ffmpeg"
	"github.com/smazurov/framecast/internal/frame"
	"github.com/smazurov/framecast/internal/logging"
	"github.com/smazurov/framecast/internal/process"
)

var (
	// ErrSpawn wraps every failure to launch the encoder process.
	ErrSpawn = errors.New("encoder failed to start")
	// ErrConfig wraps invalid or incomplete stream parameters.
	ErrConfig = errors.New("invalid egress configuration")
	// ErrNotPiped is returned by WriteFrame on a handle that reads its own input.
	ErrNotPiped = errors.New("encoder does not read frames from stdin")
	// ErrExited is returned by WriteFrame once the encoder has gone away.
	ErrExited = errors.New("encoder has exited")
)

// Mode selects how the encoder receives video.
type Mode string

const (
	// ModeSource lets the encoder read the source path itself at real-time pace.
	// Preview and egress decode independently and may drift.
	ModeSource Mode = "source"
	// ModePipe feeds the encoder the same native-order frames the preview shows.
	ModePipe Mode = "pipe"
)

// ParseMode accepts "source" or "pipe"; empty means ModeSource.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSource:
		return ModeSource, nil
	case ModePipe:
		return ModePipe, nil
	}
	return "", fmt.Errorf("%w: unknown egress mode %q", ErrConfig, s)
}

// StatsHandler receives encoder progress reports.
type StatsHandler func(ffmpeg.Progress)

// Encoder starts encoder processes. One Encoder may start many handles over its lifetime.
type Encoder struct {
	Binary          string        // default "ffmpeg"; may carry a wrapper prefix
	GracefulTimeout time.Duration // SIGINT → SIGKILL
	KillTimeout     time.Duration // wait after SIGKILL
	OnStats         StatsHandler  // optional

	logger logging.Logger
}

// NewEncoder creates an encoder launcher with default timeouts.
func NewEncoder(binary string, logger logging.Logger) *Encoder {
	if binary == "" {
		binary = ffmpeg.DefaultFFmpegBinary
	}
	return &Encoder{
		Binary:          binary,
		GracefulTimeout: 3 * time.Second,
		KillTimeout:     2 * time.Second,
		logger:          logger,
	}
}

// Start validates params and launches the encoder. It does not wait for the
// encoder to connect. Width and height are only needed in ModePipe.
func (e *Encoder) Start(mode Mode, sourcePath string, params ffmpeg.StreamParams, width, height int) (*Handle, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	input := ffmpeg.EgressInput{Path: sourcePath}
	if mode == ModePipe {
		input = ffmpeg.EgressInput{Pipe: true, Width: width, Height: height}
	}

	args, err := ffmpeg.BuildEgressArgs(input, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	argv, err := process.Command(e.Binary, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	e.logger.Info("Starting encoder",
		"mode", string(mode),
		"output", ffmpeg.RedactURL(params.OutputURL()),
		"command", strings.Join(ffmpeg.RedactArgs(argv, params.StreamKey.Get()), " "))

	proc := process.New("encoder", argv, e.logger)
	proc.SetTimeouts(e.GracefulTimeout, e.KillTimeout)
	proc.SetLogParser(logging.GetLogger("ffmpeg"), parseEncoderLog)
	if e.OnStats != nil {
		proc.SetOutputHandler(&progressHandler{onStats: e.OnStats})
	}
	if mode == ModePipe {
		proc.PipeStdin()
	}

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	h := &Handle{mode: mode, proc: proc}
	if mode == ModePipe {
		h.stdin = proc.Stdin()
		h.frameSize = frame.Size(width, height)
	}
	return h, nil
}

// Handle owns one running encoder process.
type Handle struct {
	mode      Mode
	proc      *process.Process
	stdin     io.WriteCloser
	frameSize int

	writeMu sync.Mutex
}

// Mode returns how the encoder receives video.
func (h *Handle) Mode() Mode { return h.mode }

// Pid returns the encoder's process id.
func (h *Handle) Pid() int { return h.proc.Pid() }

// Exited is closed once the encoder process has exited.
func (h *Handle) Exited() <-chan struct{} { return h.proc.Done() }

// ExitCode returns the encoder exit code, or -1 while it runs.
func (h *Handle) ExitCode() int { return h.proc.ExitCode() }

// WriteFrame writes one native-order frame to the encoder's stdin.
// Display-order frames are converted back before writing.
func (h *Handle) WriteFrame(f frame.Frame) error {
	if h.stdin == nil {
		return ErrNotPiped
	}
	if f.Len() != h.frameSize {
		return fmt.Errorf("frame is %d bytes, encoder expects %d", f.Len(), h.frameSize)
	}

	select {
	case <-h.proc.Done():
		return ErrExited
	default:
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := frame.ToNativeOrder(f).WriteTo(h.stdin); err != nil {
		return fmt.Errorf("%w: %w", ErrExited, err)
	}
	return nil
}

// Terminate stops the encoder. Idempotent; bounded by the encoder's timeouts.
func (h *Handle) Terminate() int {
	return h.proc.Terminate()
}

// progressHandler turns "-progress" lines from stderr into stats callbacks.
type progressHandler struct {
	mu      sync.Mutex
	parser  ffmpeg.ProgressParser
	onStats StatsHandler
}

func (p *progressHandler) HandleLine(source, line string) {
	if source != "stderr" || !ffmpeg.IsProgressLine(line) {
		return
	}
	p.mu.Lock()
	prog, ok := p.parser.Feed(line)
	p.mu.Unlock()
	if ok {
		p.onStats(prog)
	}
}

// parseEncoderLog drops "-progress" lines from the log; they are reported through OnStats.
func parseEncoderLog(line string) (level, msg string) {
	if ffmpeg.IsProgressLine(line) {
		return "debug", ""
	}
	return ffmpeg.ParseLogLevel(line)
}
