package config

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/smazurov/framecast/internal/logging"
)

// DefaultDebounce is how long the watcher waits after the last change event
// before reloading.
const DefaultDebounce = 1500 * time.Millisecond

// Watcher reloads a config file whenever it changes and passes the result to
// typed handlers. It watches the parent directory, so saves that rename a
// temp file over the original are noticed.
type Watcher[T any] struct {
	path     string
	debounce time.Duration
	loader   func(path string) (T, error)
	onError  func(error)
	logger   logging.Logger

	mu       sync.Mutex
	handlers map[uint64]func(T)
	nextID   uint64

	loadMu   sync.Mutex // serializes Reload
	fsw      *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce overrides DefaultDebounce.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) { w.debounce = d }
}

// WithErrorHandler is called when a reload fails. Failures are logged either way.
func WithErrorHandler[T any](fn func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) { w.onError = fn }
}

// NewConfigWatcher creates a watcher for path. Nothing happens until Start.
func NewConfigWatcher[T any](
	path string,
	loader func(path string) (T, error),
	logger logging.Logger,
	opts ...WatcherOption[T],
) *Watcher[T] {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		loader:   loader,
		logger:   logger,
		handlers: make(map[uint64]func(T)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers fn and returns a function that removes it.
func (w *Watcher[T]) OnReload(fn func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Start begins watching. It may be called once.
func (w *Watcher[T]) Start() error {
	if w.fsw != nil {
		return errors.New("config watcher already started")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	w.logger.Info("Config watcher started", "path", w.path, "debounce", w.debounce)
	go w.run()
	return nil
}

// Stop ends watching and waits for a pending reload to finish. Safe to call
// more than once, and before Start.
func (w *Watcher[T]) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.fsw == nil {
			return
		}
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

// Reload loads the file now and notifies handlers with the result.
func (w *Watcher[T]) Reload() error {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()

	cfg, err := w.loader(w.path)
	if err != nil {
		w.logger.Warn("Failed to load config", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return err
	}

	w.mu.Lock()
	handlers := make([]func(T), 0, len(w.handlers))
	for id := range w.nextID {
		if fn, ok := w.handlers[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	w.mu.Unlock()

	for _, fn := range handlers {
		fn(cfg)
	}
	return nil
}

func (w *Watcher[T]) matches(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename)
}

func (w *Watcher[T]) run() {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			w.logger.Debug("Config watcher stopped")
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.matches(ev) {
				w.logger.Debug("Config file change detected", "op", ev.Op.String())
				timer.Reset(w.debounce)
			}
		case <-timer.C:
			select {
			case <-w.stop:
				return
			default:
			}
			w.logger.Info("Config file changed, reloading", "path", w.path)
			_ = w.Reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		}
	}
}
