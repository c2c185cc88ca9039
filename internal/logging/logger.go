package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// DefaultBufferSize is how many entries the ring buffer keeps for log replay.
const DefaultBufferSize = 1000

// Logger is a duck-typed interface satisfied by *slog.Logger.
// Packages that only log take this instead of *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// levelFor resolves the effective level of module: its override, else the
// global level, else info.
func (c Config) levelFor(module string) slog.Level {
	if s, ok := c.Modules[module]; ok {
		if l := parseLevel(s); l != nil {
			return *l
		}
	}
	if l := parseLevel(c.Level); l != nil {
		return *l
	}
	return slog.LevelInfo
}

// registry holds every module logger. Each module has its own LevelVar so
// levels can change without recreating loggers held by long-lived components.
type registry struct {
	mu         sync.RWMutex
	config     Config
	configured bool
	global     slog.LevelVar
	levels     map[string]*slog.LevelVar
	loggers    map[string]*slog.Logger
	buffer     *RingBuffer
	callback   LogCallback
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		levels:  make(map[string]*slog.LevelVar),
		loggers: make(map[string]*slog.Logger),
	}
}

// reset drops all loggers and configuration. Tests only.
func reset() {
	fresh := newRegistry()
	reg.mu.Lock()
	reg.config = fresh.config
	reg.configured = false
	reg.levels = fresh.levels
	reg.loggers = fresh.loggers
	reg.buffer = nil
	reg.callback = nil
	reg.global.Set(slog.LevelInfo)
	reg.mu.Unlock()
}

func (r *registry) format() string {
	if r.configured && r.config.Format != "" {
		return r.config.Format
	}
	return "text"
}

// Initialize applies config to every existing and future module logger and
// installs the default slog logger. Loggers handed out earlier keep their
// handlers but follow the new levels; later GetLogger calls get the
// configured outputs. The log history survives repeated calls.
func Initialize(config Config) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.config = config
	reg.configured = true
	if reg.buffer == nil {
		reg.buffer = NewRingBuffer(DefaultBufferSize)
	}
	reg.global.Set(config.levelFor(""))

	for module, level := range reg.levels {
		level.Set(config.levelFor(module))
		// Loggers created before Initialize lack the journal and buffer
		// outputs and the configured format.
		reg.loggers[module] = reg.newLogger(module, level)
	}

	slog.SetDefault(slog.New(reg.newHandler(&reg.global)))
}

// SetLevels changes the global and per-module levels in place. Format and
// outputs are left alone.
func SetLevels(config Config) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.config.Level = config.Level
	reg.config.Modules = config.Modules
	reg.global.Set(reg.config.levelFor(""))
	for module, level := range reg.levels {
		level.Set(reg.config.levelFor(module))
	}
}

// GetBuffer returns the log ring buffer, or nil before Initialize.
func GetBuffer() *RingBuffer {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.buffer
}

// SetLogCallback sets a function called with every buffered entry.
func SetLogCallback(callback LogCallback) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.callback = callback
}

func sinks() (*RingBuffer, LogCallback) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.buffer, reg.callback
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	reg.mu.RLock()
	logger, ok := reg.loggers[module]
	reg.mu.RUnlock()
	if ok {
		return logger
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if logger, ok := reg.loggers[module]; ok {
		return logger
	}

	level := &slog.LevelVar{}
	if reg.configured {
		level.Set(reg.config.levelFor(module))
	}
	reg.levels[module] = level
	logger = reg.newLogger(module, level)
	reg.loggers[module] = logger
	return logger
}

func (r *registry) newLogger(module string, level slog.Leveler) *slog.Logger {
	return slog.New(r.newHandler(level)).With("module", module)
}

// newHandler builds the output chain: stdout when something is attached,
// the journal when journald is running, and always the ring buffer. Secret
// attributes are masked before any output sees them.
func (r *registry) newHandler(level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if r.format() == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var outputs []slog.Handler
	if isStdoutAvailable() {
		outputs = append(outputs, stdout)
	}
	if IsJournalAvailable() {
		outputs = append(outputs, NewJournalHandler(level))
	}
	outputs = append(outputs, NewBufferHandler(level))

	if len(outputs) == 1 {
		return NewRedactHandler(outputs[0])
	}
	return NewRedactHandler(NewMultiHandler(outputs...))
}

// isStdoutAvailable reports whether stdout is a terminal, pipe, socket or
// regular file. /dev/null is a device and does not count.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

// parseLevel converts a level name to slog.Level, or nil when unknown.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
