package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/framecast/internal/events"
	"github.com/smazurov/framecast/internal/logging"
)

// LogStreamInput lets a reconnecting client skip entries it already has.
type LogStreamInput struct {
	Since uint64 `query:"since" doc:"Only replay entries with a sequence number above this"`
}

// subscription attaches one event type to a channel.
type subscription func(*events.Bus, chan<- any) func()

func subscribe[T events.Event]() subscription {
	return func(bus *events.Bus, ch chan<- any) func() {
		return events.SubscribeToChannel[T](bus, ch)
	}
}

// feed is one SSE connection's view of the bus. Subscribing happens before
// any replay, so nothing published in between is lost.
type feed struct {
	ch    chan any
	unsub []func()
}

func (s *Server) openFeed(size int, subs ...subscription) *feed {
	f := &feed{ch: make(chan any, size)}
	for _, sub := range subs {
		f.unsub = append(f.unsub, sub(s.eventBus, f.ch))
	}
	return f
}

func (f *feed) close() {
	for _, unsub := range f.unsub {
		unsub()
	}
}

// relay sends events until ctx ends or a write fails. skip may be nil.
func (f *feed) relay(ctx context.Context, send sse.Sender, skip func(any) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.ch:
			if skip != nil && skip(ev) {
				continue
			}
			if err := send.Data(ev); err != nil {
				return
			}
		}
	}
}

func sseOperation(id, path, summary, description, tag string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      http.MethodGet,
		Path:        path,
		Summary:     summary,
		Description: description,
		Tags:        []string{tag},
		Security:    withAuth(),
		Errors:      []int{401},
	}
}

// registerEventStreams registers /api/events, /api/metrics and /api/logs/stream.
func (s *Server) registerEventStreams() {
	sse.Register(s.api, sseOperation("events-stream", "/api/events", "Stream Events",
		"Stream state changes, stream errors and upload lifecycle. The current state is sent first.", "events"),
		map[string]any{
			"stream-state-changed": events.StreamStateChangedEvent{},
			"stream-error":         events.StreamErrorEvent{},
			"asset-changed":        events.AssetChangedEvent{},
		},
		func(ctx context.Context, _ *struct{}, send sse.Sender) {
			f := s.openFeed(16,
				subscribe[events.StreamStateChangedEvent](),
				subscribe[events.StreamErrorEvent](),
				subscribe[events.AssetChangedEvent](),
			)
			defer f.close()

			st := s.streams.Status()
			if err := send.Data(events.StreamStateChangedEvent{
				SessionID: st.ID,
				State:     string(st.State),
				Source:    st.Source,
				Egress:    st.Egress,
				Timestamp: time.Now().Format(time.RFC3339),
			}); err != nil {
				return
			}
			f.relay(ctx, send, nil)
		})

	sse.Register(s.api, sseOperation("metrics-stream", "/api/metrics", "Encoder Metrics Stream",
		"Encoder statistics (fps, bitrate, dropped frames, speed) for the running egress, sent when they change.", "metrics"),
		map[string]any{"encoder-stats": events.EncoderStatsEvent{}},
		func(ctx context.Context, _ *struct{}, send sse.Sender) {
			f := s.openFeed(8, subscribe[events.EncoderStatsEvent]())
			defer f.close()
			f.relay(ctx, send, nil)
		})

	sse.Register(s.api, sseOperation("logs-stream", "/api/logs/stream", "Log Stream",
		"Replays buffered logs newer than since, then streams new ones.", "logs"),
		map[string]any{"message": events.LogEntryEvent{}},
		func(ctx context.Context, input *LogStreamInput, send sse.Sender) {
			f := s.openFeed(128, subscribe[events.LogEntryEvent]())
			defer f.close()

			lastSeq := input.Since
			if buffer := logging.GetBuffer(); buffer != nil {
				for _, entry := range buffer.Since(input.Since) {
					if err := send.Data(logEvent(entry)); err != nil {
						return
					}
					lastSeq = max(lastSeq, entry.Seq)
				}
			}
			// Entries logged during the replay arrive twice.
			f.relay(ctx, send, func(ev any) bool {
				e, ok := ev.(events.LogEntryEvent)
				return ok && e.Seq != 0 && e.Seq <= lastSeq
			})
		})
}

func logEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}
