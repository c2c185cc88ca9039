package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/framecast/internal/capture"
	"github.com/smazurov/framecast/internal/config"
	"github.com/smazurov/framecast/internal/egress"
	"github.com/smazurov/framecast/internal/ffmpeg"
	"github.com/smazurov/framecast/internal/frame"
	"github.com/smazurov/framecast/internal/logging"
	"github.com/smazurov/framecast/internal/preview"
	"github.com/smazurov/framecast/internal/streams"
)

// playOptions mirrors the server options the play command needs. Field names
// match the flag names so config.LoadConfig leaves explicit flags alone.
type playOptions struct {
	Config          string
	FfmpegBinary    string `toml:"ffmpeg.binary" env:"FFMPEG_BINARY"`
	FfprobeBinary   string `toml:"ffmpeg.probe_binary" env:"FFPROBE_BINARY"`
	Loop            bool
	MaxFps          int
	Egress          bool
	EgressMode      string `toml:"egress.mode" env:"EGRESS_MODE"`
	EgressServerUrl string `toml:"egress.server_url" env:"EGRESS_SERVER_URL"`
	EgressStreamKey string `toml:"egress.stream_key" env:"EGRESS_STREAM_KEY"`
	Frames          int
	Duration        string
	Snapshot        string
	PreviewAddress  string
}

// CreatePlayCmd creates the play command.
func CreatePlayCmd() *cobra.Command {
	var opts playOptions

	cmd := &cobra.Command{
		Use:   "play <source>",
		Short: "Stream one source without the HTTP API",
		Long: `Opens a camera index, device node or video file and pumps its frames until the source ends, ` +
			`the frame or time limit is reached, or the process is interrupted. With --egress the stream is also ` +
			`pushed to the configured ingest endpoint. The stream key is read from the config file or ` +
			`FRAMECAST_EGRESS_STREAM_KEY, never from a flag.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadConfig(&opts, cmd); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logging.Initialize(config.LoadLoggingConfig(opts.Config))
			return runPlay(cmd.Context(), &opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Config, "config", "c", "config.toml", "Path to configuration file")
	flags.StringVar(&opts.FfmpegBinary, "ffmpeg-binary", ffmpeg.DefaultFFmpegBinary, "ffmpeg binary or wrapper command")
	flags.StringVar(&opts.FfprobeBinary, "ffprobe-binary", ffmpeg.DefaultFFprobeBinary, "ffprobe binary")
	flags.BoolVar(&opts.Loop, "loop", false, "Restart file sources at end of input")
	flags.IntVar(&opts.MaxFps, "max-fps", 0, "Frame rate cap (0 = unlimited)")
	flags.BoolVar(&opts.Egress, "egress", false, "Push to the configured ingest endpoint")
	flags.StringVar(&opts.EgressMode, "egress-mode", string(egress.ModeSource), "Encoder input for file sources (source, pipe)")
	flags.StringVar(&opts.EgressServerUrl, "egress-server-url", "", "Ingest server URL, without the stream key")
	flags.IntVarP(&opts.Frames, "frames", "n", 0, "Stop after this many frames (0 = no limit)")
	flags.StringVarP(&opts.Duration, "duration", "d", "", "Stop after this long, e.g. 30s")
	flags.StringVar(&opts.Snapshot, "snapshot", "", "Write the last frame to this JPEG file on exit")
	flags.StringVar(&opts.PreviewAddress, "preview-address", "", "Serve an MJPEG preview on this address, e.g. 127.0.0.1:8091")

	return cmd
}

func runPlay(parent context.Context, opts *playOptions, source string) error {
	logger := logging.GetLogger("play")

	desc, err := capture.ParseDescriptor(source)
	if err != nil {
		return err
	}

	params := ffmpeg.DefaultStreamParams()
	params.ServerURL = opts.EgressServerUrl
	params.StreamKey = config.TakeSecret(&opts.EgressStreamKey)
	settings, err := streams.NewSettings(opts.Egress, opts.EgressMode, params)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration != "" {
		d, parseErr := time.ParseDuration(opts.Duration)
		if parseErr != nil {
			return fmt.Errorf("invalid duration %q: %w", opts.Duration, parseErr)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sourceOpts := capture.Options{
		FFmpegBinary:  opts.FfmpegBinary,
		FFprobeBinary: opts.FfprobeBinary,
		Loop:          opts.Loop,
		MaxFPS:        float64(opts.MaxFps),
	}
	controller := streams.NewController(streams.Options{
		NewSource: func() capture.Source { return capture.NewFFmpegSource(sourceOpts, logging.GetLogger("capture")) },
		Encoder:   egress.NewEncoder(opts.FfmpegBinary, logging.GetLogger("egress")),
		Settings:  settings,
		Logger:    logging.GetLogger("streams"),
	})

	hub := preview.NewHub(preview.Options{Logger: logging.GetLogger("preview")})
	defer hub.Close()

	if opts.PreviewAddress != "" {
		srv := &http.Server{Addr: opts.PreviewAddress, Handler: hub, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("Preview server failed", "error", serveErr)
			}
		}()
		defer func() { _ = srv.Close() }()
		logger.Info("Serving MJPEG preview", "address", opts.PreviewAddress)
	}

	if _, err := controller.Start(ctx, streams.StartRequest{Source: desc}); err != nil {
		return err
	}
	status := controller.Status()
	logger.Info("Streaming", "source", desc.String(), "width", status.Width, "height", status.Height, "egress", status.Egress)

	var shown atomic.Int64
	display := streams.DisplayFunc(func(f frame.Frame) {
		hub.ShowFrame(f)
		if n := shown.Add(1); opts.Frames > 0 && n >= int64(opts.Frames) {
			cancel()
		}
	})

	pumpErr := controller.Pump(ctx, display)
	if stopErr := controller.Stop(); stopErr != nil {
		logger.Warn("Stream did not stop cleanly", "error", stopErr)
	}
	logger.Info("Stopped", "frames", shown.Load())

	if opts.Snapshot != "" {
		if err := writeSnapshot(hub, opts.Snapshot); err != nil {
			logger.Warn("Failed to write snapshot", "path", opts.Snapshot, "error", err)
		}
	}

	switch {
	case pumpErr == nil, errors.Is(pumpErr, context.Canceled), errors.Is(pumpErr, context.DeadlineExceeded):
		return nil
	case errors.Is(pumpErr, streams.ErrEndOfStream):
		logger.Info("Source ended")
		return nil
	default:
		return pumpErr
	}
}

func writeSnapshot(hub *preview.Hub, path string) error {
	data, _, err := hub.Snapshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
