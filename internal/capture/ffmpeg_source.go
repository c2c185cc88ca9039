package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/smazurov/framecast/internal/ffmpeg"
	"github.com/smazurov/framecast/internal/frame"
	"github.com/smazurov/framecast/internal/logging"
	"github.com/smazurov/framecast/internal/process"
)

// Options configures an FFmpegSource.
type Options struct {
	FFmpegBinary  string // default "ffmpeg"; may carry a wrapper prefix
	FFprobeBinary string // default "ffprobe"

	// Width and Height, when both set, scale the decoder output and skip probing.
	// They are also reported by Dimensions while the source is closed.
	Width  int
	Height int

	MaxFPS float64 // 0 = unlimited
	Loop   bool    // restart files at end of input

	OpenTimeout     time.Duration // wait for the first frame
	GracefulTimeout time.Duration // decoder shutdown
}

const defaultOpenTimeout = 10 * time.Second

// FFmpegSource decodes a file or camera with an ffmpeg subprocess that writes
// packed bgr24 frames to its stdout.
type FFmpegSource struct {
	opts   Options
	logger logging.Logger

	mu      sync.Mutex
	proc    *process.Process
	stdout  *os.File
	reader  *bufio.Reader
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	width   int
	height  int
	err     error

	readMu sync.Mutex // one frame read at a time
}

var _ Source = (*FFmpegSource)(nil)

// NewFFmpegSource creates a closed source.
func NewFFmpegSource(opts Options, logger logging.Logger) *FFmpegSource {
	if opts.FFmpegBinary == "" {
		opts.FFmpegBinary = ffmpeg.DefaultFFmpegBinary
	}
	if opts.FFprobeBinary == "" {
		opts.FFprobeBinary = ffmpeg.DefaultFFprobeBinary
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	return &FFmpegSource{opts: opts, logger: logger}
}

// Open starts the decoder for d and waits until the first frame is available.
func (s *FFmpegSource) Open(ctx context.Context, d Descriptor) bool {
	s.mu.Lock()
	if s.proc != nil {
		s.mu.Unlock()
		s.setErr(ErrAlreadyOpen)
		return false
	}
	s.mu.Unlock()

	if err := s.open(ctx, d); err != nil {
		s.logger.Warn("Failed to open source", "source", d.String(), "error", err)
		s.setErr(err)
		return false
	}
	s.setErr(nil)
	return true
}

func (s *FFmpegSource) open(ctx context.Context, d Descriptor) error {
	path := d.Path()
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrOpenFailure, path)
	}

	w, h := s.opts.Width, s.opts.Height
	scale := w > 0 && h > 0
	if !scale {
		w, h, err = Probe(ctx, s.opts.FFprobeBinary, d)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOpenFailure, err)
		}
	}

	decodeOpts := ffmpeg.DecodeOptions{
		Device:   d.IsDevice(),
		Loop:     s.opts.Loop && !d.IsDevice(),
		Realtime: !d.IsDevice(),
	}
	if scale {
		decodeOpts.Width, decodeOpts.Height = w, h
	}
	argv, err := process.Command(s.opts.FFmpegBinary, ffmpeg.BuildDecodeArgs(path, decodeOpts))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}

	proc := process.New("decoder", argv, s.logger)
	proc.CaptureStdout()
	proc.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
	proc.SetTimeouts(s.opts.GracefulTimeout, s.opts.GracefulTimeout)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("%w: start decoder: %w", ErrOpenFailure, err)
	}

	stdout := proc.Stdout()
	reader := bufio.NewReaderSize(stdout, frame.Size(w, h))

	// A source only counts as open once it has produced a frame.
	if err := awaitFirstFrame(ctx, reader, frame.Size(w, h), s.opts.OpenTimeout, stdout); err != nil {
		_ = stdout.Close()
		proc.Terminate()
		return fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}

	var limiter *rate.Limiter
	if s.opts.MaxFPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.MaxFPS), 1)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.proc = proc
	s.stdout = stdout
	s.reader = reader
	s.limiter = limiter
	s.ctx = readCtx
	s.cancel = cancel
	s.width, s.height = w, h
	s.mu.Unlock()

	s.logger.Info("Source opened", "source", d.String(), "width", w, "height", h, "pid", proc.Pid())
	return nil
}

// awaitFirstFrame blocks until size bytes are buffered. Closing closer aborts
// the wait when ctx ends or the timeout passes.
func awaitFirstFrame(ctx context.Context, r *bufio.Reader, size int, timeout time.Duration, closer io.Closer) error {
	done := make(chan error, 1)
	go func() {
		_, err := r.Peek(size)
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("decoder produced no frames")
		}
		return err
	case <-ctx.Done():
		_ = closer.Close()
		<-done
		return ctx.Err()
	case <-timer.C:
		_ = closer.Close()
		<-done
		return fmt.Errorf("no frame within %s", timeout)
	}
}

// Read returns the next native-order frame.
func (s *FFmpegSource) Read() (frame.Frame, bool) {
	s.mu.Lock()
	proc, reader, limiter, ctx := s.proc, s.reader, s.limiter, s.ctx
	w, h := s.width, s.height
	s.mu.Unlock()

	if reader == nil {
		s.setErr(ErrNotOpen)
		return frame.Frame{}, false
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			s.setErr(ErrNotOpen)
			return frame.Frame{}, false
		}
	}

	buf := make([]byte, frame.Size(w, h))
	s.readMu.Lock()
	_, err := io.ReadFull(reader, buf)
	s.readMu.Unlock()

	if err != nil {
		s.setErr(s.classifyReadError(ctx, proc, err))
		return frame.Frame{}, false
	}

	f, err := frame.Own(w, h, frame.OrderBGR, buf)
	if err != nil {
		s.setErr(fmt.Errorf("%w: %w", ErrReadFailure, err))
		return frame.Frame{}, false
	}
	return f, true
}

// classifyReadError separates a clean end of input from a failing decoder.
func (s *FFmpegSource) classifyReadError(ctx context.Context, proc *process.Process, err error) error {
	if ctx.Err() != nil {
		return ErrNotOpen
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated frame", ErrReadFailure)
	}
	if !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrReadFailure, err)
	}

	// Stdout closed at a frame boundary; the decoder's exit status decides.
	select {
	case <-proc.Done():
	case <-time.After(time.Second):
		return ErrEndOfStream
	}
	if code := proc.ExitCode(); code != 0 {
		return fmt.Errorf("%w: decoder exited with code %d", ErrReadFailure, code)
	}
	return ErrEndOfStream
}

// Dimensions returns the frame size of the open source or the configured fallback.
func (s *FFmpegSource) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return s.width, s.height
	}
	if s.opts.Width > 0 && s.opts.Height > 0 {
		return s.opts.Width, s.opts.Height
	}
	return 0, 0
}

// Release stops the decoder. A concurrent Read returns false.
func (s *FFmpegSource) Release() {
	s.mu.Lock()
	proc, stdout, cancel := s.proc, s.stdout, s.cancel
	s.proc, s.stdout, s.reader, s.limiter, s.cancel = nil, nil, nil, nil, nil
	s.width, s.height = 0, 0
	s.mu.Unlock()

	if proc == nil {
		return
	}

	cancel()
	_ = stdout.Close()
	code := proc.Terminate()
	s.logger.Info("Source released", "exit_code", code)
}

// Err returns the reason for the most recent false result.
func (s *FFmpegSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *FFmpegSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
