package systemd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/framecast/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// listen binds a datagram socket and points NOTIFY_SOCKET at it.
func listen(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram sockets unavailable: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	t.Setenv("WATCHDOG_USEC", "")
	return conn
}

func receive(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 512)
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read notification: %v", err)
	}
	return string(buf[:n])
}

func TestReadyAndStopping(t *testing.T) {
	conn := listen(t)
	n := NewNotifier(testLogger())

	n.Ready(context.Background())
	if got := receive(t, conn); got != "READY=1" {
		t.Errorf("got %q, want READY=1", got)
	}

	n.Stopping()
	if got := receive(t, conn); got != "STOPPING=1" {
		t.Errorf("got %q, want STOPPING=1", got)
	}
}

func TestFollowStreams(t *testing.T) {
	conn := listen(t)
	n := NewNotifier(testLogger())
	bus := events.New()
	unsubscribe := n.FollowStreams(bus)
	defer unsubscribe()

	bus.Publish(events.StreamStateChangedEvent{State: "streaming", Source: "camera:0"})
	if got := receive(t, conn); got != "STATUS=streaming camera:0" {
		t.Errorf("got %q", got)
	}

	bus.Publish(events.StreamStateChangedEvent{State: "idle", Reason: "end_of_stream"})
	if got := receive(t, conn); !strings.Contains(got, "end_of_stream") {
		t.Errorf("got %q", got)
	}
}

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := NewNotifier(testLogger())
	n.Ready(context.Background())
	n.Status("idle")
	n.Stopping()
}
