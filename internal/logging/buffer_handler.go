package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// LogCallback is called with every entry written to the ring buffer.
// main uses it to publish log events without an import cycle.
type LogCallback func(entry LogEntry)

// BufferHandler writes records to the ring buffer and the registered
// LogCallback. Both are looked up per record, so handlers created before
// Initialize or SetLogCallback pick them up once they exist.
type BufferHandler struct {
	collected
}

var logSeq atomic.Uint64

// NewBufferHandler creates a buffer handler filtering at level.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{collected{level: level}}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.enabled(level)
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Timestamp:  r.Time,
		Level:      levelToString(r.Level),
		Module:     "app",
		Message:    r.Message,
		Attributes: make(map[string]any),
	}
	h.flatten(r, ".", func(key string, v slog.Value) {
		if key == "module" {
			entry.Module = v.String()
			return
		}
		entry.Attributes[key] = bufferValue(v)
	})
	if len(entry.Attributes) == 0 {
		entry.Attributes = nil
	}

	buffer, callback := sinks()
	entry.Seq = logSeq.Add(1)
	if buffer != nil {
		buffer.Write(entry)
	}
	if callback != nil {
		callback(entry)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BufferHandler{h.withAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	return &BufferHandler{h.withGroup(name)}
}

// bufferValue converts v to something that marshals cleanly to JSON.
func bufferValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.Any()
}

func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// FormatLogLine renders an entry as one line: time, level, module, message
// and sorted key=value attributes.
func FormatLogLine(entry LogEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] [%s] %s",
		entry.Timestamp.Format(time.RFC3339Nano),
		strings.ToUpper(entry.Level),
		entry.Module,
		entry.Message)

	keys := make([]string, 0, len(entry.Attributes))
	for k := range entry.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, entry.Attributes[k])
	}
	return sb.String()
}
