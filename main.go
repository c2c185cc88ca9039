package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/framecast/cmd"
	"github.com/smazurov/framecast/internal/api"
	"github.com/smazurov/framecast/internal/assets"
	"github.com/smazurov/framecast/internal/capture"
	"github.com/smazurov/framecast/internal/config"
	"github.com/smazurov/framecast/internal/egress"
	"github.com/smazurov/framecast/internal/events"
	"github.com/smazurov/framecast/internal/logging"
	"github.com/smazurov/framecast/internal/metrics/exporters"
	"github.com/smazurov/framecast/internal/preview"
	"github.com/smazurov/framecast/internal/streams"
	"github.com/smazurov/framecast/internal/systemd"
	"github.com/smazurov/framecast/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Address    string `help:"Address to listen on" short:"a" default:"127.0.0.1:8090" toml:"server.address" env:"SERVER_ADDRESS"`
	CorsOrigin string `help:"Allowed CORS origin" default:"*" toml:"server.cors_origin" env:"SERVER_CORS_ORIGIN"`

	// Auth settings (disabled unless both are set)
	AuthUsername string `help:"Basic auth username" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Tool paths
	FfmpegBinary  string `help:"ffmpeg binary or wrapper command" default:"ffmpeg" toml:"ffmpeg.binary" env:"FFMPEG_BINARY"`
	FfprobeBinary string `help:"ffprobe binary" default:"ffprobe" toml:"ffmpeg.probe_binary" env:"FFPROBE_BINARY"`

	// Capture settings
	CaptureWidth       int    `help:"Decode width (0 = source)" default:"0" toml:"capture.width" env:"CAPTURE_WIDTH"`
	CaptureHeight      int    `help:"Decode height (0 = source)" default:"0" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	CaptureMaxFps      int    `help:"Frame rate cap for delivered frames (0 = unlimited)" default:"0" toml:"capture.max_fps" env:"CAPTURE_MAX_FPS"`
	CaptureLoop        bool   `help:"Loop file sources" default:"false" toml:"capture.loop" env:"CAPTURE_LOOP"`
	CaptureOpenTimeout string `help:"Wait for the first decoded frame" default:"10s" toml:"capture.open_timeout" env:"CAPTURE_OPEN_TIMEOUT"`

	// Egress settings
	EgressEnabled          bool   `help:"Push streams to the ingest endpoint by default" default:"false" toml:"egress.enabled" env:"EGRESS_ENABLED"`
	EgressMode             string `help:"Encoder input for file sources (source, pipe)" default:"source" toml:"egress.mode" env:"EGRESS_MODE"`
	EgressServerUrl        string `help:"Ingest server URL, without the stream key" toml:"egress.server_url" env:"EGRESS_SERVER_URL"`
	EgressStreamKey        string `help:"Ingest stream key (prefer the environment variable)" toml:"egress.stream_key" env:"EGRESS_STREAM_KEY"`
	EgressVideoCodec       string `help:"Video codec" default:"libx264" toml:"egress.video_codec" env:"EGRESS_VIDEO_CODEC"`
	EgressPreset           string `help:"Encoder preset" default:"veryfast" toml:"egress.preset" env:"EGRESS_PRESET"`
	EgressMaxBitrate       string `help:"Maximum video bitrate" default:"3000k" toml:"egress.max_bitrate" env:"EGRESS_MAX_BITRATE"`
	EgressBufferSize       string `help:"Rate control buffer size" default:"6000k" toml:"egress.buffer_size" env:"EGRESS_BUFFER_SIZE"`
	EgressKeyframeInterval int    `help:"GOP length in frames" default:"50" toml:"egress.keyframe_interval" env:"EGRESS_KEYFRAME_INTERVAL"`
	EgressFrameRate        int    `help:"Input frame rate in pipe mode" default:"30" toml:"egress.frame_rate" env:"EGRESS_FRAME_RATE"`
	EgressAudioBitrate     string `help:"Audio bitrate" default:"128k" toml:"egress.audio_bitrate" env:"EGRESS_AUDIO_BITRATE"`
	EgressGracefulTimeout  string `help:"Encoder shutdown grace period" default:"3s" toml:"egress.graceful_timeout" env:"EGRESS_GRACEFUL_TIMEOUT"`

	// Upload settings
	AssetsDir       string `help:"Directory for uploaded temp files (default: system temp)" toml:"assets.dir" env:"ASSETS_DIR"`
	AssetsMaxSizeMb int64  `help:"Upload size limit in MiB" default:"1024" toml:"assets.max_size_mb" env:"ASSETS_MAX_SIZE_MB"`

	// Preview settings
	PreviewQuality  int `help:"MJPEG preview quality (1-100)" default:"80" toml:"preview.quality" env:"PREVIEW_QUALITY"`
	PreviewMaxWidth int `help:"Downscale preview frames wider than this (0 = off)" default:"960" toml:"preview.max_width" env:"PREVIEW_MAX_WIDTH"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingEgress  string `help:"Egress logging level" default:"info" toml:"logging.egress" env:"LOGGING_EGRESS"`
	LoggingStreams string `help:"Streams logging level" default:"info" toml:"logging.streams" env:"LOGGING_STREAMS"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingPreview string `help:"Preview logging level" default:"info" toml:"logging.preview" env:"LOGGING_PREVIEW"`
	LoggingAssets  string `help:"Assets logging level" default:"info" toml:"logging.assets" env:"LOGGING_ASSETS"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		// Flag defaults and CLI values, before the file and env are applied.
		// Reloads start over from here so keys removed from the file revert.
		base := *opts
		base.EgressStreamKey = ""
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}
		streamKey := config.TakeSecret(&opts.EgressStreamKey)

		logging.Initialize(loggingConfig(opts))
		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		// Components are built in OnStart so subcommands never touch the
		// filesystem or validate egress settings.
		var (
			server     *api.Server
			controller *streams.Controller
			assetStore *assets.Manager
			sseExport  *exporters.SSEExporter
			watcher    *config.Watcher[reloaded]
			notifier                      = systemd.NewNotifier(logging.GetLogger("systemd"))
			cancel     context.CancelFunc = func() {}
		)

		hooks.OnStart(func() {
			logger.Info("Starting", "version", version.Banner())

			settings, err := settingsFromOptions(opts, streamKey)
			if err != nil {
				logger.Error("Invalid egress configuration", "error", err)
				os.Exit(1)
			}

			assetStore, err = assets.NewManager(opts.AssetsDir, opts.AssetsMaxSizeMb<<20, logging.GetLogger("assets"))
			if err != nil {
				logger.Error("Failed to create asset directory", "error", err)
				os.Exit(1)
			}
			assetStore.SetOnChange(func(path, action string) {
				eventBus.Publish(events.AssetChangedEvent{
					Path:      path,
					Action:    action,
					Timestamp: time.Now().Format(time.RFC3339),
				})
			})

			encoder := egress.NewEncoder(opts.FfmpegBinary, logging.GetLogger("egress"))
			encoder.GracefulTimeout = parseDuration(opts.EgressGracefulTimeout, encoder.GracefulTimeout, logger)

			sourceOpts := capture.Options{
				FFmpegBinary:  opts.FfmpegBinary,
				FFprobeBinary: opts.FfprobeBinary,
				Width:         opts.CaptureWidth,
				Height:        opts.CaptureHeight,
				MaxFPS:        float64(opts.CaptureMaxFps),
				Loop:          opts.CaptureLoop,
				OpenTimeout:   parseDuration(opts.CaptureOpenTimeout, 10*time.Second, logger),
			}
			captureLogger := logging.GetLogger("capture")

			controller = streams.NewController(streams.Options{
				NewSource: func() capture.Source { return capture.NewFFmpegSource(sourceOpts, captureLogger) },
				Encoder:   encoder,
				Assets:    assetStore,
				EventBus:  eventBus,
				Settings:  settings,
				Logger:    logging.GetLogger("streams"),
			})
			encoder.OnStats = controller.RecordEncoderStats

			hub := preview.NewHub(preview.Options{
				Quality:  opts.PreviewQuality,
				MaxWidth: opts.PreviewMaxWidth,
				Logger:   logging.GetLogger("preview"),
			})

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			sseExport = exporters.NewSSEExporter(eventBus)
			sseExport.Start(ctx)

			watcher = watchSettings(ctx, opts.Config, &base, cli, streamKey, controller, logger)

			server = api.NewServer(&api.Options{
				AuthUsername:      opts.AuthUsername,
				AuthPassword:      opts.AuthPassword,
				CORSOrigin:        opts.CorsOrigin,
				MaxUploadBytes:    opts.AssetsMaxSizeMb << 20,
				StreamService:     controller,
				Assets:            assetStore,
				Preview:           hub,
				EventBus:          eventBus,
				PrometheusHandler: exporters.HTTPHandler(eventBus),
			})

			unfollow := notifier.FollowStreams(eventBus)
			defer unfollow()
			notifier.Ready(ctx)
			notifier.Status("idle")

			logger.Info("Starting HTTP server", "address", opts.Address)
			if startErr := server.Start(opts.Address); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if server != nil {
				if stopErr := server.Stop(); stopErr != nil {
					logger.Error("Error stopping HTTP server", "error", stopErr)
				}
			}

			// Encoder and decoder go down after the HTTP server stops accepting requests
			if controller != nil {
				if stopErr := controller.Stop(); stopErr != nil {
					logger.Warn("Stream did not stop cleanly", "error", stopErr)
				}
			}
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping config watcher", "error", stopErr)
				}
			}
			if sseExport != nil {
				sseExport.Stop()
			}
			cancel()
			if assetStore != nil {
				if releaseErr := assetStore.ReleaseAll(); releaseErr != nil {
					logger.Warn("Failed to remove temp assets", "error", releaseErr)
				}
			}
		})
	})

	cli.Root().Use = version.Name
	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreatePlayCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateCamerasCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}
