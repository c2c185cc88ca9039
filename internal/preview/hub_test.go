package preview

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smazurov/framecast/internal/frame"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func solidFrame(t *testing.T, w, h int, r, g, b byte) frame.Frame {
	t.Helper()
	pix := make([]byte, frame.Size(w, h))
	for i := 0; i < len(pix); i += frame.Channels {
		pix[i], pix[i+1], pix[i+2] = r, g, b
	}
	f, err := frame.Own(w, h, frame.OrderRGB, pix)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestSnapshot(t *testing.T) {
	h := NewHub(Options{Logger: testLogger()})

	if _, _, err := h.Snapshot(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("Snapshot() before frames = %v, want ErrNoFrame", err)
	}

	h.ShowFrame(solidFrame(t, 32, 16, 250, 10, 10))
	data, at, err := h.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if at.IsZero() {
		t.Error("Snapshot() returned zero timestamp")
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("snapshot is not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Errorf("snapshot size = %dx%d, want 32x16", b.Dx(), b.Dy())
	}
	r, g, _, _ := img.At(16, 8).RGBA()
	if r>>8 < 200 || g>>8 > 60 {
		t.Errorf("snapshot colour lost: r=%d g=%d", r>>8, g>>8)
	}

	h.Reset()
	if _, _, err := h.Snapshot(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Snapshot() after Reset = %v, want ErrNoFrame", err)
	}
}

func TestSnapshotDownscales(t *testing.T) {
	h := NewHub(Options{MaxWidth: 20, Quality: 60, Logger: testLogger()})
	h.ShowFrame(solidFrame(t, 80, 40, 0, 0, 255))

	data, _, err := h.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 20 || cfg.Height != 10 {
		t.Errorf("scaled size = %dx%d, want 20x10", cfg.Width, cfg.Height)
	}
}

func TestServeHTTPStreamsParts(t *testing.T) {
	h := NewHub(Options{Logger: testLogger()})
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f := solidFrame(t, 8, 8, 1, 2, 3)
	go func() {
		for ctx.Err() == nil {
			h.ShowFrame(f)
			time.Sleep(10 * time.Millisecond)
		}
	}()

	mr := multipart.NewReader(bufio.NewReader(resp.Body), params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("NextPart() error: %v", err)
	}
	if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("part Content-Type = %q", ct)
	}
	if _, err := jpeg.Decode(part); err != nil {
		t.Errorf("part is not a JPEG: %v", err)
	}

	cancel()
	deadline = time.Now().Add(2 * time.Second)
	for h.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	h := NewHub(Options{Logger: testLogger()})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/preview", nil)

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHTTP did not return after Close")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status after Close = %d, want 503", rec.Code)
	}
}

func TestPushDropsOldest(t *testing.T) {
	ch := make(chan []byte, clientQueue)
	for _, b := range []byte{1, 2, 3} {
		push(ch, []byte{b})
	}
	if a, b := <-ch, <-ch; a[0] != 2 || b[0] != 3 {
		t.Errorf("queue = %v,%v, want newest two", a, b)
	}
}
