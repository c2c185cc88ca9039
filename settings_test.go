package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xaionaro-go/secret"

	"github.com/smazurov/framecast/internal/egress"
	"github.com/smazurov/framecast/internal/logging"
)

func TestSettingsFromOptions(t *testing.T) {
	opts := &Options{
		EgressEnabled:          true,
		EgressMode:             "pipe",
		EgressServerUrl:        "rtmp://ingest.example/live",
		EgressPreset:           "fast",
		EgressKeyframeInterval: 60,
	}

	s, err := settingsFromOptions(opts, secret.New("k1"))
	if err != nil {
		t.Fatalf("settingsFromOptions() error = %v", err)
	}
	if !s.Egress || s.Mode != egress.ModePipe {
		t.Errorf("Egress = %v, Mode = %q", s.Egress, s.Mode)
	}
	if s.Params.Preset != "fast" || s.Params.KeyframeInterval != 60 {
		t.Errorf("overrides not applied: %+v", s.Params)
	}
	if s.Params.VideoCodec != "libx264" {
		t.Errorf("VideoCodec = %q, want default", s.Params.VideoCodec)
	}

	_, err = settingsFromOptions(opts, secret.New(""))
	if !errors.Is(err, egress.ErrConfig) {
		t.Errorf("missing key error = %v, want ErrConfig", err)
	}

	opts.EgressEnabled = false
	if _, err := settingsFromOptions(opts, secret.New("")); err != nil {
		t.Errorf("disabled egress without key: %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	logger := logging.GetLogger("test")
	tests := map[string]time.Duration{
		"":      time.Second,
		"250ms": 250 * time.Millisecond,
		"soon":  time.Second,
		"-1s":   time.Second,
	}
	for in, want := range tests {
		if got := parseDuration(in, time.Second, logger); got != want {
			t.Errorf("parseDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggingConfigFollowsAPILevel(t *testing.T) {
	cfg := loggingConfig(&Options{LoggingLevel: "warn", LoggingAPI: "debug", LoggingEgress: "error"})
	if cfg.Level != "warn" || cfg.Modules["http"] != "debug" || cfg.Modules["egress"] != "error" {
		t.Errorf("loggingConfig() = %+v", cfg)
	}
}

func TestReloadLoaderKeepsStartupKey(t *testing.T) {
	t.Setenv("FRAMECAST_EGRESS_STREAM_KEY", "")
	path := filepath.Join(t.TempDir(), "framecast.toml")
	content := "[egress]\nenabled = true\nserver_url = \"rtmp://ingest.example/live\"\n\n[logging]\nstreams = \"debug\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	load := reloadLoader(&Options{Config: path, EgressMode: "source"}, nil, secret.New("startup"))
	r, err := load(path)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if got := r.Settings.Params.StreamKey.Get(); got != "startup" {
		t.Errorf("StreamKey = %q, want startup key", got)
	}
	if r.Logging.Modules["streams"] != "debug" {
		t.Errorf("streams level = %q", r.Logging.Modules["streams"])
	}

	content = "[egress]\nenabled = true\nserver_url = \"rtmp://ingest.example/live\"\nstream_key = \"rotated\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err = load(path)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if got := r.Settings.Params.StreamKey.Get(); got != "rotated" {
		t.Errorf("StreamKey = %q, want rotated", got)
	}
}

func TestReloadLoaderRevertsRemovedKeys(t *testing.T) {
	t.Setenv("FRAMECAST_EGRESS_STREAM_KEY", "")
	path := filepath.Join(t.TempDir(), "framecast.toml")
	content := "[egress]\nenabled = true\nserver_url = \"rtmp://ingest.example/live\"\npreset = \"slow\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	base := &Options{Config: path, EgressMode: "source", EgressPreset: "veryfast", LoggingLevel: "info"}
	load := reloadLoader(base, nil, secret.New("startup"))
	r, err := load(path)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if !r.Settings.Egress || r.Settings.Params.Preset != "slow" {
		t.Fatalf("first load = %+v", r.Settings)
	}

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"warn\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err = load(path)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if r.Settings.Egress {
		t.Error("Egress still enabled after [egress] was removed")
	}
	if r.Settings.Params.Preset != "veryfast" || r.Settings.Params.ServerURL != "" {
		t.Errorf("Preset = %q, ServerURL = %q, want defaults", r.Settings.Params.Preset, r.Settings.Params.ServerURL)
	}
	if r.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", r.Logging.Level)
	}
	if base.EgressPreset != "veryfast" {
		t.Errorf("base modified: %q", base.EgressPreset)
	}
}

func TestReloadLoaderRejectsBadMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framecast.toml")
	if err := os.WriteFile(path, []byte("[egress]\nmode = \"carrier-pigeon\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	load := reloadLoader(&Options{Config: path}, nil, secret.New(""))
	if _, err := load(path); err == nil {
		t.Error("load() accepted unknown mode")
	}
}
