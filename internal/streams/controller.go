// Package streams runs one stream at a time: it opens a frame source, optionally
// starts an encoder pushing to the configured endpoint, hands display-order
// frames to the caller and releases everything when the stream ends.
package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/smazurov/framecast/internal/capture"
	"github.com/smazurov/framecast/internal/egress"
	"github.com/smazurov/framecast/internal/events"
	"github.com/smazurov/framecast/internal/ffmpeg"
	"github.com/smazurov/framecast/internal/frame"
	"github.com/smazurov/framecast/internal/logging"
	"github.com/smazurov/framecast/internal/metrics"
)

// Options wires a Controller. NewSource is required.
type Options struct {
	NewSource func() capture.Source
	Encoder   EncoderStarter // nil disables egress
	Assets    AssetReleaser  // nil when uploads are not used
	EventBus  EventPublisher // optional
	Settings  Settings
	Logger    logging.Logger
}

// Controller owns at most one streaming session.
type Controller struct {
	newSource func() capture.Source
	encoder   EncoderStarter
	assets    AssetReleaser
	eventBus  EventPublisher
	logger    logging.Logger

	startMu sync.Mutex // serializes Start

	mu       sync.Mutex
	settings Settings
	active   *session
}

type session struct {
	id        string
	desc      capture.Descriptor
	source    capture.Source
	encoder   *egress.Handle
	mode      egress.Mode // empty without egress
	asset     string
	width     int
	height    int
	startedAt time.Time
	frames    atomic.Int64
	done      chan struct{}
}

// NewController creates an idle controller.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("streams")
	}
	return &Controller{
		newSource: opts.NewSource,
		encoder:   opts.Encoder,
		assets:    opts.Assets,
		eventBus:  opts.EventBus,
		logger:    opts.Logger,
		settings:  opts.Settings,
	}
}

// Settings returns the settings the next Start will use.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SetSettings replaces the settings for subsequent starts.
func (c *Controller) SetSettings(s Settings) {
	c.mu.Lock()
	c.settings = s
	streaming := c.active != nil
	c.mu.Unlock()
	if streaming {
		c.logger.Info("Stream settings updated, applying on next start")
	}
}

// State returns the current controller state.
func (c *Controller) State() State {
	if c.current() == nil {
		return StateIdle
	}
	return StateStreaming
}

// Status returns a snapshot of the current session.
func (c *Controller) Status() Session {
	s := c.current()
	if s == nil {
		return Session{State: StateIdle}
	}
	snap := Session{
		ID:         s.id,
		State:      StateStreaming,
		Source:     s.desc.String(),
		SourceKind: s.desc.Kind.String(),
		Width:      s.width,
		Height:     s.height,
		Egress:     string(s.mode),
		TempAsset:  s.asset,
		StartedAt:  s.startedAt,
		FramesRead: s.frames.Load(),
	}
	if s.encoder != nil {
		snap.EncoderPID = s.encoder.Pid()
	}
	return snap
}

// Start opens req.Source and, when egress is enabled, starts the encoder.
// It returns true without doing anything if a stream is already running.
// On failure nothing is left open, the controller stays idle and the error
// is a *StreamError.
func (c *Controller) Start(ctx context.Context, req StartRequest) (bool, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	active, settings := c.active, c.settings
	c.mu.Unlock()

	if active != nil {
		c.logger.Debug("Start ignored, already streaming", "session_id", active.id)
		if req.TempAsset != "" && req.TempAsset != active.asset {
			c.releaseAsset(req.TempAsset)
		}
		return true, nil
	}

	s, err := c.open(ctx, req, settings)
	if err != nil {
		if req.TempAsset != "" {
			c.releaseAsset(req.TempAsset)
		}
		c.reportError("", err)
		return false, err
	}

	c.mu.Lock()
	c.active = s
	c.mu.Unlock()

	metrics.SetStreamActive(true)
	metrics.IncStreamStart(s.desc.Kind.String(), string(s.mode))
	c.publishState(s, StateStreaming, "")
	c.logger.Info("Stream started",
		"session_id", s.id,
		"source", s.desc.String(),
		"width", s.width,
		"height", s.height,
		"egress", string(s.mode))

	if s.encoder != nil {
		go c.watchEncoder(s)
	}
	return true, nil
}

func (c *Controller) open(ctx context.Context, req StartRequest, settings Settings) (*session, error) {
	useEgress := settings.Egress
	if req.Egress != nil {
		useEgress = *req.Egress
	}

	var mode egress.Mode
	if useEgress {
		if c.encoder == nil {
			return nil, NewStreamError(ErrCodeConfigError, "egress requested but no encoder is configured", nil)
		}
		if err := settings.Params.Validate(); err != nil {
			return nil, NewStreamError(ErrCodeConfigError, "egress settings are incomplete", err)
		}
		mode = settings.Mode
		if mode == "" {
			mode = egress.ModeSource
		}
		if req.Source.IsDevice() && mode == egress.ModeSource {
			// A capture node can only be opened once, so the encoder gets our frames.
			mode = egress.ModePipe
		}
	}

	src := c.newSource()
	if !src.Open(ctx, req.Source) {
		cause := src.Err()
		src.Release()
		return nil, NewStreamError(ErrCodeOpenFailure, fmt.Sprintf("could not open %s", req.Source), cause)
	}

	w, h := src.Dimensions()
	s := &session{
		id:        uuid.NewString(),
		desc:      req.Source,
		source:    src,
		mode:      mode,
		asset:     req.TempAsset,
		width:     w,
		height:    h,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	if useEgress {
		handle, err := c.encoder.Start(mode, req.Source.Path(), settings.Params, w, h)
		if err != nil {
			src.Release()
			code := ErrCodeEncoderSpawnFailure
			if errors.Is(err, egress.ErrConfig) {
				code = ErrCodeConfigError
			}
			return nil, NewStreamError(code, "encoder did not start", err)
		}
		s.encoder = handle
	}
	return s, nil
}

// NextFrame returns the next display-order frame. When the source fails or
// ends, the stream is stopped and the error tells which (ErrReadFailure or
// ErrEndOfStream). A Stop racing with NextFrame yields ErrNotStreaming and no
// frame.
func (c *Controller) NextFrame() (frame.Frame, error) {
	s := c.current()
	if s == nil {
		return frame.Frame{}, notStreaming()
	}

	f, ok := s.source.Read()
	if !ok {
		if !c.isActive(s) {
			return frame.Frame{}, notStreaming()
		}
		cause := s.source.Err()
		err := NewStreamError(ErrCodeReadFailure, "frame read failed", cause)
		reason := ReasonReadFailure
		if errors.Is(cause, capture.ErrEndOfStream) {
			err = NewStreamError(ErrCodeEndOfStream, "source has no more frames", cause)
			reason = ReasonEndOfStream
		}
		// Cleanup failures are reported by end.
		_ = c.end(s, reason, err)
		return frame.Frame{}, err
	}

	if s.mode == egress.ModePipe && s.encoder != nil {
		if writeErr := s.encoder.WriteFrame(f); writeErr != nil {
			if !c.isActive(s) {
				return frame.Frame{}, notStreaming()
			}
			err := NewStreamError(ErrCodeEncoderExited, "encoder stopped accepting frames", writeErr)
			_ = c.end(s, ReasonEncoderExited, err)
			return frame.Frame{}, err
		}
		metrics.IncFramesWritten()
	}

	if !c.isActive(s) {
		return frame.Frame{}, notStreaming()
	}
	s.frames.Add(1)
	metrics.IncFramesRead()
	return frame.ToDisplayOrder(f), nil
}

// Stop ends the current stream. It is safe to call when idle and concurrently
// with NextFrame. The controller is idle when Stop returns even if cleanup
// failed; such failures come back as a CLEANUP_FAILURE *StreamError.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return c.teardown(s, ReasonStopped)
}

// RecordEncoderStats stores encoder progress for the running session.
// It is meant as the egress.Encoder OnStats callback.
func (c *Controller) RecordEncoderStats(p ffmpeg.Progress) {
	s := c.current()
	if s == nil || s.encoder == nil {
		return
	}
	metrics.SetEncoderFrame(s.id, p.Frame)
	metrics.SetEncoderFPS(s.id, p.FPS)
	metrics.SetEncoderBitrate(s.id, p.Bitrate)
	metrics.SetEncoderDroppedFrames(s.id, float64(p.Dropped))
	metrics.SetEncoderSpeed(s.id, p.Speed)
}

func (c *Controller) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) isActive(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == s
}

// end tears s down if it is still the active session.
func (c *Controller) end(s *session, reason string, cause error) error {
	c.mu.Lock()
	if c.active != s {
		c.mu.Unlock()
		return nil
	}
	c.active = nil
	c.mu.Unlock()

	if cause != nil {
		c.reportError(s.id, cause)
	}
	return c.teardown(s, reason)
}

func (c *Controller) teardown(s *session, reason string) error {
	var result *multierror.Error

	if s.encoder != nil {
		code := s.encoder.Terminate()
		c.logger.Debug("Encoder terminated", "session_id", s.id, "exit_code", code)
	}
	s.source.Release()
	if s.asset != "" && c.assets != nil {
		if err := c.assets.Release(s.asset); err != nil {
			result = multierror.Append(result, err)
		}
	}
	close(s.done)

	metrics.SetStreamActive(false)
	metrics.IncStreamStop(reason)
	metrics.DeleteEncoderMetrics(s.id)
	c.publishState(s, StateIdle, reason)
	c.logger.Info("Stream stopped",
		"session_id", s.id,
		"reason", reason,
		"frames", s.frames.Load(),
		"duration", time.Since(s.startedAt).Round(time.Millisecond))

	if err := result.ErrorOrNil(); err != nil {
		serr := NewStreamError(ErrCodeCleanupFailure, "stream stopped but cleanup failed", err)
		c.reportError(s.id, serr)
		return serr
	}
	return nil
}

// watchEncoder ends the session when the encoder exits on its own.
func (c *Controller) watchEncoder(s *session) {
	select {
	case <-s.done:
		return
	case <-s.encoder.Exited():
	}

	code := s.encoder.ExitCode()
	if code == 0 {
		_ = c.end(s, ReasonEncoderFinished, nil)
		return
	}
	err := NewStreamError(ErrCodeEncoderExited, fmt.Sprintf("encoder exited with code %d", code), nil)
	_ = c.end(s, ReasonEncoderExited, err)
}

func (c *Controller) releaseAsset(path string) {
	if c.assets == nil {
		return
	}
	if err := c.assets.Release(path); err != nil {
		c.reportError("", NewStreamError(ErrCodeCleanupFailure, "could not delete uploaded file", err))
	}
}

func (c *Controller) reportError(sessionID string, err error) {
	code := CodeOf(err)
	c.logger.Warn("Stream error", "session_id", sessionID, "code", code, "error", err)
	metrics.IncStreamError(code)
	if c.eventBus != nil {
		c.eventBus.Publish(events.StreamErrorEvent{
			SessionID: sessionID,
			Code:      code,
			Message:   err.Error(),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

func (c *Controller) publishState(s *session, state State, reason string) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Publish(events.StreamStateChangedEvent{
		SessionID: s.id,
		State:     string(state),
		Source:    s.desc.String(),
		Egress:    string(s.mode),
		Reason:    reason,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func notStreaming() error {
	return NewStreamError(ErrCodeNotStreaming, "no stream is running", nil)
}
