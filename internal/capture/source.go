// Package capture opens camera and file sources and reads raw native-order frames from them.
package capture

import (
	"context"
	"errors"

	"github.com/smazurov/framecast/internal/frame"
)

// Reasons reported by Source.Err after Open or Read returns false.
var (
	ErrOpenFailure  = errors.New("source could not be opened")
	ErrNotOpen      = errors.New("source is not open")
	ErrEndOfStream  = errors.New("end of stream")
	ErrReadFailure  = errors.New("frame read failed")
	ErrAlreadyOpen  = errors.New("source is already open")
	ErrProbeFailure = errors.New("could not determine frame dimensions")
)

// Source is a video source producing frames in native (BGR) order.
// Expected failures are reported through boolean results, never panics;
// Err explains the most recent false result.
type Source interface {
	// Open opens d. It returns false and holds nothing on failure.
	Open(ctx context.Context, d Descriptor) bool
	// Read returns the next frame, or false when not open, at end of input or on error.
	Read() (frame.Frame, bool)
	// Dimensions returns the frame size, or the configured fallback (possibly 0,0) when not open.
	Dimensions() (width, height int)
	// Release closes the source. Idempotent and safe concurrently with Read.
	Release()
	// Err returns the reason for the last false result from Open or Read.
	Err() error
}
