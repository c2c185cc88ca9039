package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/secret"

	"github.com/smazurov/framecast/internal/config"
	"github.com/smazurov/framecast/internal/ffmpeg"
	"github.com/smazurov/framecast/internal/logging"
	"github.com/smazurov/framecast/internal/streams"
)

// settingsFromOptions maps the egress options onto stream settings. The key
// has already been moved out of opts.
func settingsFromOptions(opts *Options, key secret.String) (streams.Settings, error) {
	params := ffmpeg.DefaultStreamParams()
	params.ServerURL = opts.EgressServerUrl
	params.StreamKey = key
	if opts.EgressVideoCodec != "" {
		params.VideoCodec = opts.EgressVideoCodec
	}
	if opts.EgressPreset != "" {
		params.Preset = opts.EgressPreset
	}
	if opts.EgressMaxBitrate != "" {
		params.MaxBitrate = opts.EgressMaxBitrate
	}
	if opts.EgressBufferSize != "" {
		params.BufferSize = opts.EgressBufferSize
	}
	if opts.EgressKeyframeInterval > 0 {
		params.KeyframeInterval = opts.EgressKeyframeInterval
	}
	if opts.EgressFrameRate > 0 {
		params.FrameRate = opts.EgressFrameRate
	}
	if opts.EgressAudioBitrate != "" {
		params.AudioBitrate = opts.EgressAudioBitrate
	}
	return streams.NewSettings(opts.EgressEnabled, opts.EgressMode, params)
}

func parseDuration(s string, fallback time.Duration, logger logging.Logger) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		logger.Warn("Invalid duration, using default", "value", s, "default", fallback)
		return fallback
	}
	return d
}

// loggingConfig maps the logging options. The "http" module follows the API level.
func loggingConfig(opts *Options) logging.Config {
	return logging.Config{
		Level:  opts.LoggingLevel,
		Format: opts.LoggingFormat,
		Modules: map[string]string{
			"capture": opts.LoggingCapture,
			"egress":  opts.LoggingEgress,
			"streams": opts.LoggingStreams,
			"api":     opts.LoggingAPI,
			"http":    opts.LoggingAPI,
			"preview": opts.LoggingPreview,
			"assets":  opts.LoggingAssets,
		},
	}
}

// reloaded is what a config file change can update without a restart.
type reloaded struct {
	Settings streams.Settings
	Logging  logging.Config
}

// watchSettings reloads egress settings and log levels when the config file
// changes or the process gets SIGHUP. Flags given on the command line keep
// precedence. A reload that leaves the key empty keeps the key loaded at
// startup, so a key supplied only through the environment survives edits to
// the file. base holds the options as they were before the file was applied.
func watchSettings(ctx context.Context, path string, base *Options, cli humacli.CLI, key secret.String, controller *streams.Controller, logger logging.Logger) *config.Watcher[reloaded] {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		logger.Debug("Config file not found, settings reload disabled", "path", path)
		return nil
	}

	watcher := config.NewConfigWatcher(path, reloadLoader(base, cli.Root(), key), logging.GetLogger("config"))
	watcher.OnReload(func(r reloaded) {
		logging.SetLevels(r.Logging)
		controller.SetSettings(r.Settings)
		logger.Info("Settings reloaded",
			"egress", r.Settings.Egress,
			"mode", r.Settings.Mode,
			"server_url", ffmpeg.RedactURL(r.Settings.Params.ServerURL),
			"log_level", r.Logging.Level)
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("Failed to start config watcher", "error", err)
		return nil
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info("SIGHUP received, reloading config")
				_ = watcher.Reload()
			}
		}
	}()
	return watcher
}

// reloadLoader rebuilds the options from base on every call, so a key
// deleted from the file falls back to its default.
func reloadLoader(base *Options, root *cobra.Command, key secret.String) func(string) (reloaded, error) {
	return func(path string) (reloaded, error) {
		next := *base
		next.Config = path
		if err := config.LoadConfig(&next, root); err != nil {
			return reloaded{}, err
		}
		nextKey := config.TakeSecret(&next.EgressStreamKey)
		if nextKey.Get() == "" {
			nextKey = key
		}
		settings, err := settingsFromOptions(&next, nextKey)
		if err != nil {
			return reloaded{}, err
		}
		return reloaded{Settings: settings, Logging: loggingConfig(&next)}, nil
	}
}
