package egress

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/framecast/internal/ffmpeg"
	"github.com/smazurov/framecast/internal/frame"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testParams() ffmpeg.StreamParams {
	p := ffmpeg.DefaultStreamParams()
	p.ServerURL = "rtmps://live.example.com:443/rtmp"
	return p.WithStreamKey("sk-test")
}

// fakeEncoder returns an Encoder whose binary is a shell script that ignores
// the generated ffmpeg arguments.
func fakeEncoder(script string) *Encoder {
	e := NewEncoder(`sh -c "`+script+`"`, testLogger())
	e.GracefulTimeout = 200 * time.Millisecond
	e.KillTimeout = 200 * time.Millisecond
	return e
}

const idleEncoder = "trap 'exit 0' INT TERM; while :; do sleep 0.05; done"

func TestStartSpawnFailure(t *testing.T) {
	e := NewEncoder("/nonexistent/definitely-not-ffmpeg", testLogger())
	h, err := e.Start(ModeSource, "/tmp/in.mp4", testParams(), 0, 0)
	if err == nil {
		h.Terminate()
		t.Fatal("expected spawn error")
	}
	if !errors.Is(err, ErrSpawn) {
		t.Errorf("error = %v, want ErrSpawn", err)
	}
}

func TestStartMissingStreamKey(t *testing.T) {
	p := ffmpeg.DefaultStreamParams()
	p.ServerURL = "rtmps://live.example.com:443/rtmp"

	_, err := fakeEncoder(idleEncoder).Start(ModeSource, "/tmp/in.mp4", p, 0, 0)
	if !errors.Is(err, ErrConfig) || !errors.Is(err, ffmpeg.ErrMissingStreamKey) {
		t.Errorf("error = %v, want ErrConfig wrapping ErrMissingStreamKey", err)
	}
}

func TestStartAndTerminate(t *testing.T) {
	h, err := fakeEncoder(idleEncoder).Start(ModeSource, "/tmp/in.mp4", testParams(), 0, 0)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if h.Pid() == 0 {
		t.Error("Pid() = 0 for running encoder")
	}
	if h.Mode() != ModeSource {
		t.Errorf("Mode() = %v", h.Mode())
	}

	start := time.Now()
	code := h.Terminate()
	if code != 0 {
		t.Errorf("Terminate() = %d, want 0", code)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Terminate() took %v", elapsed)
	}
	select {
	case <-h.Exited():
	default:
		t.Error("Exited() not closed after Terminate()")
	}

	// Idempotent.
	if again := h.Terminate(); again != code {
		t.Errorf("second Terminate() = %d, want %d", again, code)
	}
}

func TestTerminateStubbornEncoder(t *testing.T) {
	h, err := fakeEncoder("trap '' INT TERM; exec sleep 10").Start(ModeSource, "/tmp/in.mp4", testParams(), 0, 0)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	start := time.Now()
	h.Terminate()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Terminate() of stubborn encoder took %v", elapsed)
	}
}

func TestWriteFramePipeMode(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frames.raw")
	// cat stdin to a file until EOF, ignoring SIGINT so nothing is lost.
	h, err := fakeEncoder("trap '' INT; cat > "+out).Start(ModePipe, "", testParams(), 1, 1)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	bgr, _ := frame.New(1, 1, frame.OrderBGR, []byte{1, 2, 3})
	if err := h.WriteFrame(bgr); err != nil {
		t.Fatalf("WriteFrame(bgr) error: %v", err)
	}
	// Display-order frames go back to native order on the wire.
	if err := h.WriteFrame(frame.ToDisplayOrder(bgr)); err != nil {
		t.Fatalf("WriteFrame(rgb) error: %v", err)
	}

	h.Terminate()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "\x01\x02\x03\x01\x02\x03" {
		t.Errorf("encoder received %v, want two native-order frames", data)
	}
}

func TestWriteFrameErrors(t *testing.T) {
	h, err := fakeEncoder(idleEncoder).Start(ModeSource, "/tmp/in.mp4", testParams(), 0, 0)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer h.Terminate()

	f, _ := frame.New(1, 1, frame.OrderBGR, []byte{1, 2, 3})
	if err := h.WriteFrame(f); !errors.Is(err, ErrNotPiped) {
		t.Errorf("WriteFrame in source mode = %v, want ErrNotPiped", err)
	}

	piped, err := fakeEncoder("exit 0").Start(ModePipe, "", testParams(), 1, 1)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	<-piped.Exited()
	if err := piped.WriteFrame(f); !errors.Is(err, ErrExited) {
		t.Errorf("WriteFrame after exit = %v, want ErrExited", err)
	}

	big, _ := frame.New(2, 1, frame.OrderBGR, make([]byte, 6))
	if err := piped.WriteFrame(big); err == nil {
		t.Error("WriteFrame with wrong size succeeded")
	}
}

func TestStatsFromProgress(t *testing.T) {
	var mu sync.Mutex
	var got []ffmpeg.Progress

	e := fakeEncoder(`printf 'frame=10\\nfps=25.0\\nprogress=continue\\n' >&2`)
	e.OnStats = func(p ffmpeg.Progress) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}

	h, err := e.Start(ModeSource, "/tmp/in.mp4", testParams(), 0, 0)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	select {
	case <-h.Exited():
	case <-time.After(time.Second):
		t.Fatal("fake encoder did not exit")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Frame != 10 || got[0].FPS != 25 {
		t.Errorf("stats = %+v, want one block with frame=10 fps=25", got)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeSource, "source": ModeSource, "PIPE": ModePipe} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("udp"); !errors.Is(err, ErrConfig) {
		t.Errorf("ParseMode(udp) error = %v, want ErrConfig", err)
	}
}

func TestParseEncoderLogHidesProgress(t *testing.T) {
	if _, msg := parseEncoderLog("bitrate=100kbits/s"); msg != "" {
		t.Errorf("progress line logged as %q", msg)
	}
	if level, msg := parseEncoderLog("[error] boom"); level != "error" || !strings.Contains(msg, "boom") {
		t.Errorf("parseEncoderLog([error] boom) = %q, %q", level, msg)
	}
}
