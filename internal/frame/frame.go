// Package frame holds the immutable pixel buffer passed between the capture,
// egress and display layers, plus the channel-order conversions between them.
package frame

import (
	"errors"
	"fmt"
	"io"
)

// Channels is the number of bytes per pixel in every frame.
const Channels = 3

// Order identifies the byte order of the color components in a pixel.
type Order uint8

const (
	// OrderBGR is the native order produced by the decoder and expected by the encoder.
	OrderBGR Order = iota
	// OrderRGB is the display order handed to display collaborators.
	OrderRGB
)

func (o Order) String() string {
	switch o {
	case OrderBGR:
		return "bgr"
	case OrderRGB:
		return "rgb"
	default:
		return fmt.Sprintf("order(%d)", uint8(o))
	}
}

var (
	// ErrBufferSize is returned when a pixel buffer does not match width*height*3.
	ErrBufferSize = errors.New("pixel buffer size does not match dimensions")
	// ErrDimensions is returned for non-positive frame dimensions.
	ErrDimensions = errors.New("invalid frame dimensions")
)

// Frame is an immutable packed 3-channel pixel buffer.
// The zero value is an empty frame and reports IsZero.
type Frame struct {
	width  int
	height int
	order  Order
	pix    []byte
}

// New creates a frame from a copy of pix.
func New(width, height int, order Order, pix []byte) (Frame, error) {
	if width <= 0 || height <= 0 {
		return Frame{}, fmt.Errorf("%w: %dx%d", ErrDimensions, width, height)
	}
	if len(pix) != Size(width, height) {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrBufferSize, len(pix), Size(width, height))
	}
	buf := make([]byte, len(pix))
	copy(buf, pix)
	return Frame{width: width, height: height, order: order, pix: buf}, nil
}

// Own validates like New but takes ownership of pix instead of copying it.
// The caller must not touch pix afterwards.
func Own(width, height int, order Order, pix []byte) (Frame, error) {
	if width <= 0 || height <= 0 {
		return Frame{}, fmt.Errorf("%w: %dx%d", ErrDimensions, width, height)
	}
	if len(pix) != Size(width, height) {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrBufferSize, len(pix), Size(width, height))
	}
	return wrap(width, height, order, pix), nil
}

// wrap adopts pix without copying. Callers must not retain pix.
func wrap(width, height int, order Order, pix []byte) Frame {
	return Frame{width: width, height: height, order: order, pix: pix}
}

// Size returns the byte length of a frame with the given dimensions.
func Size(width, height int) int {
	return width * height * Channels
}

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.height }

// Order returns the channel order of the frame.
func (f Frame) Order() Order { return f.order }

// Len returns the size of the pixel buffer in bytes.
func (f Frame) Len() int { return len(f.pix) }

// IsZero reports whether the frame carries no pixels.
func (f Frame) IsZero() bool { return len(f.pix) == 0 }

// Bytes returns a copy of the pixel buffer.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.pix))
	copy(out, f.pix)
	return out
}

// At returns the three channel values of pixel (x, y) in the frame's own
// order. Coordinates outside the frame, or any pixel of a zero frame, read
// as 0, 0, 0.
func (f Frame) At(x, y int) (c0, c1, c2 byte) {
	if x < 0 || y < 0 || x >= f.width || y >= f.height {
		return 0, 0, 0
	}
	i := (y*f.width + x) * Channels
	return f.pix[i], f.pix[i+1], f.pix[i+2]
}

// WriteTo writes the raw pixel buffer to w. Used to feed the encoder's stdin.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.pix)
	return int64(n), err
}
