package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/framecast/internal/events"
	"github.com/smazurov/framecast/internal/metrics"
)

// DefaultSSEInterval is how often encoder snapshots are checked.
const DefaultSSEInterval = time.Second

// EventPublisher is the part of the event bus the exporter needs.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter turns the encoder metrics cache into EncoderStatsEvents for
// the /api/metrics stream. A session is published only when its values
// changed since the previous tick.
type SSEExporter struct {
	bus      EventPublisher
	interval time.Duration
	last     map[string]metrics.EncoderMetrics // owned by the run loop

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// SSEOption configures an SSEExporter.
type SSEOption func(*SSEExporter)

// WithInterval overrides DefaultSSEInterval.
func WithInterval(d time.Duration) SSEOption {
	return func(s *SSEExporter) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewSSEExporter creates an exporter publishing to bus.
func NewSSEExporter(bus EventPublisher, opts ...SSEOption) *SSEExporter {
	s := &SSEExporter{
		bus:      bus,
		interval: DefaultSSEInterval,
		last:     make(map[string]metrics.EncoderMetrics),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the export loop until ctx ends or Stop is called. Calling
// Start on a running exporter does nothing.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	ctx, s.stop = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends the loop and waits for it. Safe to call repeatedly.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
}

func (s *SSEExporter) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick publishes changed sessions and forgets ended ones. Returns the
// number of events published.
func (s *SSEExporter) tick() int {
	current := metrics.GetAllEncoderMetrics()
	for id := range s.last {
		if _, ok := current[id]; !ok {
			delete(s.last, id)
		}
	}

	published := 0
	for id, m := range current {
		if prev, ok := s.last[id]; ok && prev == *m {
			continue
		}
		s.last[id] = *m
		s.bus.Publish(events.EncoderStatsEvent{
			SessionID: id,
			Frame:     m.Frame,
			FPS:       m.FPS,
			Bitrate:   m.BitrateKbps,
			Dropped:   int64(m.DroppedFrames),
			Speed:     m.Speed,
		})
		published++
	}
	return published
}
