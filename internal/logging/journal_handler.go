package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// journalIdentifier is the SYSLOG_IDENTIFIER used for every entry.
const journalIdentifier = "framecast"

// JournalHandler sends records to the systemd journal with attributes as
// upper-case fields, so `journalctl MODULE=streams` works.
type JournalHandler struct {
	collected
}

// NewJournalHandler creates a journal handler.
// Level may be a *slog.LevelVar so module levels can change at runtime.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{collected{level: level}}
}

// Enabled implements slog.Handler.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.enabled(level)
}

// Handle implements slog.Handler.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	if err := journal.Send(r.Message, journalPriority(r.Level), h.fields(r)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send to journal: %v\n", err)
		return err
	}
	return nil
}

func (h *JournalHandler) fields(r slog.Record) map[string]string {
	fields := map[string]string{"SYSLOG_IDENTIFIER": journalIdentifier}
	h.flatten(r, "_", func(key string, v slog.Value) {
		if name := journalField(key); name != "" {
			fields[name] = journalValue(v)
		}
	})
	return fields
}

// WithAttrs implements slog.Handler.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &JournalHandler{h.withAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	return &JournalHandler{h.withGroup(name)}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalField maps an attribute key to a valid journal field name:
// upper-case letters, digits and underscores, not starting with an
// underscore (those are trusted fields). Returns "" when nothing is left.
func journalField(key string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
	name = strings.TrimLeft(name, "_")
	switch name {
	case "", "MESSAGE", "PRIORITY", "SYSLOG_IDENTIFIER":
		return ""
	}
	return name
}

func journalValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format("2006-01-02T15:04:05.000Z07:00")
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	}
	return v.String()
}

// IsJournalAvailable reports whether journald is listening.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
