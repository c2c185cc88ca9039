// Package preview shows the running stream in a browser. Frames handed to the
// Hub are JPEG encoded and pushed to every connected MJPEG client; the most
// recent one is kept for snapshots.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/smazurov/framecast/internal/frame"
	"github.com/smazurov/framecast/internal/logging"
	"github.com/smazurov/framecast/internal/metrics"
)

// ErrNoFrame is returned by Snapshot before the first frame or after Reset.
var ErrNoFrame = errors.New("no frame available")

const (
	defaultQuality = 80
	clientQueue    = 2
	boundary       = "frame"
)

// Options configures a Hub.
type Options struct {
	Quality  int // JPEG quality 1-100, 0 = 80
	MaxWidth int // downscale wider frames, 0 = native size
	Logger   logging.Logger
}

// Hub fans display frames out to MJPEG clients.
type Hub struct {
	quality  int
	maxWidth int
	logger   logging.Logger

	mu      sync.Mutex
	latest  frame.Frame
	seenAt  time.Time
	clients map[chan []byte]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(opts Options) *Hub {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = defaultQuality
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("preview")
	}
	return &Hub{
		quality:  opts.Quality,
		maxWidth: opts.MaxWidth,
		logger:   opts.Logger,
		clients:  make(map[chan []byte]struct{}),
	}
}

// ShowFrame records f as the latest frame and pushes it to connected clients.
// Frames are only encoded when somebody is watching. Slow clients lose their
// oldest queued frame.
func (h *Hub) ShowFrame(f frame.Frame) {
	h.mu.Lock()
	h.latest = f
	h.seenAt = time.Now()
	watching := len(h.clients) > 0
	h.mu.Unlock()

	if !watching {
		return
	}

	data, err := h.encode(f)
	if err != nil {
		h.logger.Warn("Failed to encode preview frame", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		push(ch, data)
	}
}

// Snapshot returns the latest frame as a JPEG.
func (h *Hub) Snapshot() ([]byte, time.Time, error) {
	h.mu.Lock()
	f, at := h.latest, h.seenAt
	h.mu.Unlock()

	if f.IsZero() {
		return nil, time.Time{}, ErrNoFrame
	}
	data, err := h.encode(f)
	return data, at, err
}

// Reset forgets the latest frame. Called when a stream ends so snapshots do
// not show a stale picture.
func (h *Hub) Reset() {
	h.mu.Lock()
	h.latest = frame.Frame{}
	h.seenAt = time.Time{}
	h.mu.Unlock()
}

// Clients returns the number of connected MJPEG clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later subscriptions are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
		metrics.AddPreviewClients(-1)
	}
}

func (h *Hub) subscribe() (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan []byte, clientQueue)
	h.clients[ch] = struct{}{}
	metrics.AddPreviewClients(1)
	h.logger.Debug("Preview client connected", "clients", len(h.clients))
	return ch, true
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; !ok {
		return
	}
	delete(h.clients, ch)
	metrics.AddPreviewClients(-1)
	h.logger.Debug("Preview client disconnected", "clients", len(h.clients))
}

// ServeHTTP streams multipart/x-mixed-replace JPEG frames until the client
// goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.subscribe()
	if !ok {
		http.Error(w, "preview is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case data, open := <-ch:
			if !open {
				return
			}
			if err := writePart(w, data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

func (h *Hub) encode(f frame.Frame) ([]byte, error) {
	var img image.Image = f.Image()
	if h.maxWidth > 0 && f.Width() > h.maxWidth {
		height := f.Height() * h.maxWidth / f.Width()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, h.maxWidth, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: h.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// push delivers data, evicting the oldest queued frame when ch is full.
// Callers hold h.mu, so ch has a single sender.
func push(ch chan []byte, data []byte) {
	for {
		select {
		case ch <- data:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
