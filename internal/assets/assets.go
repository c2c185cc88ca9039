// Package assets stores uploaded source files as temporary files owned by the
// stream controller, and deletes them when the stream goes idle.
package assets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/smazurov/framecast/internal/logging"
)

var (
	// ErrUnsupportedExtension is returned for uploads that are not mp4, avi or mov.
	ErrUnsupportedExtension = errors.New("unsupported upload extension")
	// ErrNotOwned is returned when releasing a path this manager did not allocate.
	ErrNotOwned = errors.New("path is not a managed asset")
	// ErrEmptyUpload is returned for zero-length uploads.
	ErrEmptyUpload = errors.New("upload is empty")
	// ErrTooLarge is returned when an upload exceeds the configured size limit.
	ErrTooLarge = errors.New("upload too large")
)

// SupportedExtensions lists the accepted upload extensions, without the dot.
var SupportedExtensions = []string{"avi", "mov", "mp4"}

// Manager allocates temporary files in its own directory.
type Manager struct {
	dir     string
	maxSize int64
	logger  logging.Logger

	mu       sync.Mutex
	owned    map[string]struct{}
	onChange func(path, action string)
}

// NewManager creates a manager writing under a fresh directory inside baseDir
// (os.TempDir when empty). maxSize <= 0 disables the size limit.
func NewManager(baseDir string, maxSize int64, logger logging.Logger) (*Manager, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset base dir: %w", err)
	}
	dir, err := os.MkdirTemp(baseDir, "framecast-assets-")
	if err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}
	return &Manager{
		dir:     dir,
		maxSize: maxSize,
		logger:  logger,
		owned:   make(map[string]struct{}),
	}, nil
}

// SetOnChange registers a callback run after a file is acquired or released.
// Action is "acquired" or "released".
func (m *Manager) SetOnChange(fn func(path, action string)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Manager) notify(path, action string) {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn(path, action)
	}
}

// Dir returns the directory holding managed assets.
func (m *Manager) Dir() string { return m.dir }

// NormalizeExtension lowercases ext, strips a leading dot and checks it is supported.
func NormalizeExtension(ext string) (string, error) {
	e := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	for _, s := range SupportedExtensions {
		if e == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of %s)", ErrUnsupportedExtension, ext, strings.Join(SupportedExtensions, ", "))
}

// Acquire writes data to a new temporary file with extension ext and returns its path.
func (m *Manager) Acquire(data []byte, ext string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyUpload
	}
	return m.AcquireFrom(bytes.NewReader(data), ext)
}

// AcquireFrom streams r into a new temporary file. On any failure the partial
// file is removed and nothing is tracked.
func (m *Manager) AcquireFrom(r io.Reader, ext string) (string, error) {
	e, err := NormalizeExtension(ext)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(m.dir, "upload-*."+e)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	src := r
	if m.maxSize > 0 {
		src = io.LimitReader(r, m.maxSize+1)
	}
	n, err := io.Copy(f, src)
	if err == nil && m.maxSize > 0 && n > m.maxSize {
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, m.maxSize)
	}
	if err == nil && n == 0 {
		err = ErrEmptyUpload
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			m.logger.Warn("Failed to remove partial upload", "path", path, "error", rmErr)
		}
		return "", fmt.Errorf("write temp file: %w", err)
	}

	m.mu.Lock()
	m.owned[path] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("Asset acquired", "path", path, "bytes", n)
	m.notify(path, "acquired")
	return path, nil
}

// Owns reports whether path was allocated by this manager and not yet released.
func (m *Manager) Owns(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.owned[filepath.Clean(path)]
	return ok
}

// Release deletes a managed file. Releasing an already released or missing
// file is a no-op; paths never allocated here are refused.
func (m *Manager) Release(path string) error {
	path = filepath.Clean(path)

	m.mu.Lock()
	_, owned := m.owned[path]
	if owned {
		delete(m.owned, path)
	}
	m.mu.Unlock()

	if !owned {
		if filepath.Dir(path) == m.dir {
			// Ours, already released.
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotOwned, path)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// Keep tracking so ReleaseAll can retry.
		m.mu.Lock()
		m.owned[path] = struct{}{}
		m.mu.Unlock()
		return fmt.Errorf("remove %s: %w", path, err)
	}

	m.logger.Info("Asset released", "path", path)
	m.notify(path, "released")
	return nil
}

// Paths returns the currently managed paths, sorted.
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.owned))
	for p := range m.owned {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ReleaseAll deletes every managed file and the manager's directory.
func (m *Manager) ReleaseAll() error {
	var result *multierror.Error
	for _, p := range m.Paths() {
		if err := m.Release(p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := os.RemoveAll(m.dir); err != nil {
		result = multierror.Append(result, fmt.Errorf("remove asset dir: %w", err))
	}
	return result.ErrorOrNil()
}
