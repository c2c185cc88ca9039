package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string

	ServerAddress string        `toml:"server.address" env:"SERVER_ADDRESS"`
	CaptureLoop   bool          `toml:"capture.loop" env:"CAPTURE_LOOP"`
	CaptureMaxFps int           `toml:"capture.max_fps" env:"CAPTURE_MAX_FPS"`
	PreviewScale  float64       `toml:"preview.scale" env:"PREVIEW_SCALE"`
	AssetsMaxSize int64         `toml:"assets.max_size" env:"ASSETS_MAX_SIZE"`
	OpenTimeout   time.Duration `toml:"capture.open_timeout" env:"CAPTURE_OPEN_TIMEOUT"`
	CorsOrigins   []string      `toml:"server.cors_origins" env:"SERVER_CORS_ORIGINS"`
	EgressMode    string        `toml:"egress.mode" env:"EGRESS_MODE"`
	Untagged      string
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framecast.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleConfig = `
[server]
address = "0.0.0.0:9000"
cors_origins = ["http://a", "http://b"]

[capture]
loop = true
max_fps = 24
open_timeout = "3s"

[preview]
scale = 2

[assets]
max_size = 1048576

[egress]
mode = "pipe"
`

func TestLoadConfigFromTOML(t *testing.T) {
	o := &testOptions{Config: writeConfig(t, sampleConfig), Untagged: "kept"}
	if err := LoadConfig(o, nil); err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	want := testOptions{
		Config:        o.Config,
		ServerAddress: "0.0.0.0:9000",
		CaptureLoop:   true,
		CaptureMaxFps: 24,
		PreviewScale:  2,
		AssetsMaxSize: 1048576,
		OpenTimeout:   3 * time.Second,
		CorsOrigins:   []string{"http://a", "http://b"},
		EgressMode:    "pipe",
		Untagged:      "kept",
	}
	if !reflect.DeepEqual(*o, want) {
		t.Errorf("LoadConfig() = %+v\nwant %+v", *o, want)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("FRAMECAST_SERVER_ADDRESS", "127.0.0.1:1")
	t.Setenv("FRAMECAST_CAPTURE_LOOP", "false")
	t.Setenv("FRAMECAST_CAPTURE_MAX_FPS", "12")
	t.Setenv("FRAMECAST_PREVIEW_SCALE", "0.5")
	t.Setenv("FRAMECAST_CAPTURE_OPEN_TIMEOUT", "750ms")
	t.Setenv("FRAMECAST_SERVER_CORS_ORIGINS", "x, y ,z")

	o := &testOptions{Config: writeConfig(t, sampleConfig)}
	if err := LoadConfig(o, nil); err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if o.ServerAddress != "127.0.0.1:1" {
		t.Errorf("ServerAddress = %q", o.ServerAddress)
	}
	if o.CaptureLoop {
		t.Error("CaptureLoop = true, want env false")
	}
	if o.CaptureMaxFps != 12 || o.PreviewScale != 0.5 {
		t.Errorf("CaptureMaxFps = %d, PreviewScale = %v", o.CaptureMaxFps, o.PreviewScale)
	}
	if o.OpenTimeout != 750*time.Millisecond {
		t.Errorf("OpenTimeout = %v, want 750ms", o.OpenTimeout)
	}
	if !reflect.DeepEqual(o.CorsOrigins, []string{"x", "y", "z"}) {
		t.Errorf("CorsOrigins = %q", o.CorsOrigins)
	}
	// Not overridden.
	if o.EgressMode != "pipe" || o.AssetsMaxSize != 1048576 {
		t.Errorf("file values lost: %+v", o)
	}
}

func TestLoadConfigCLIFlagWins(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("egress-mode", "source", "")
	if err := cmd.Flags().Set("egress-mode", "source"); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FRAMECAST_EGRESS_MODE", "nope")

	o := &testOptions{Config: writeConfig(t, sampleConfig), EgressMode: "source"}
	if err := LoadConfig(o, cmd); err != nil {
		t.Fatal(err)
	}
	if o.EgressMode != "source" {
		t.Errorf("EgressMode = %q, want CLI value", o.EgressMode)
	}
	if o.ServerAddress != "0.0.0.0:9000" {
		t.Errorf("unflagged field not loaded: %q", o.ServerAddress)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		env     map[string]string
		wantErr string
	}{
		{name: "invalid toml", config: "[capture\nloop = ", wantErr: "parse TOML"},
		{name: "bad env int", env: map[string]string{"FRAMECAST_CAPTURE_MAX_FPS": "fast"}, wantErr: "FRAMECAST_CAPTURE_MAX_FPS"},
		{name: "bad env duration", env: map[string]string{"FRAMECAST_CAPTURE_OPEN_TIMEOUT": "10"}, wantErr: "FRAMECAST_CAPTURE_OPEN_TIMEOUT"},
		{name: "wrong toml type", config: "[capture]\nloop = \"maybe\"\n", wantErr: "capture.loop"},
		{name: "non-string list", config: "[server]\ncors_origins = [1, 2]\n", wantErr: "server.cors_origins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			o := &testOptions{}
			if tt.config != "" {
				o.Config = writeConfig(t, tt.config)
			}
			err := LoadConfig(o, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigKeepsGoodValuesOnError(t *testing.T) {
	t.Setenv("FRAMECAST_CAPTURE_MAX_FPS", "fast")
	t.Setenv("FRAMECAST_EGRESS_MODE", "pipe")

	o := &testOptions{CaptureMaxFps: 30}
	if err := LoadConfig(o, nil); err == nil {
		t.Fatal("expected error")
	}
	if o.CaptureMaxFps != 30 || o.EgressMode != "pipe" {
		t.Errorf("got %+v", o)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	o := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), EgressMode: "source"}
	if err := LoadConfig(o, nil); err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if o.EgressMode != "source" {
		t.Errorf("EgressMode = %q", o.EgressMode)
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig(testOptions{}, nil); err == nil {
		t.Error("expected error for non-pointer")
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Address":         "address",
		"LoggingLevel":    "logging-level",
		"EgressServerUrl": "egress-server-url",
		"CaptureMaxFps":   "capture-max-fps",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "warn"
format = "json"
streams = "debug"

[logging.modules]
egress = "error"
`)
	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("Level = %q, Format = %q", cfg.Level, cfg.Format)
	}
	want := map[string]string{"streams": "debug", "egress": "error"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("Modules = %v, want %v", cfg.Modules, want)
	}

	for _, p := range []string{"", filepath.Join(t.TempDir(), "absent.toml"), writeConfig(t, "[logging")} {
		cfg := LoadLoggingConfig(p)
		if cfg.Level != "info" || cfg.Format != "text" || len(cfg.Modules) != 0 {
			t.Errorf("LoadLoggingConfig(%q) = %+v, want defaults", p, cfg)
		}
	}
}

func TestTakeSecret(t *testing.T) {
	key := "live_abc123"
	s := TakeSecret(&key)
	if key != "" {
		t.Errorf("source string not cleared: %q", key)
	}
	if s.Get() != "live_abc123" {
		t.Errorf("secret = %q, want live_abc123", s.Get())
	}
}
