package frame

import (
	"image"
	"image/color"
)

// ToDisplayOrder returns f in RGB order. Frames already in display order are
// returned as-is so a frame is never converted twice.
func ToDisplayOrder(f Frame) Frame {
	if f.order == OrderRGB || f.IsZero() {
		return f
	}
	return wrap(f.width, f.height, OrderRGB, swapOuter(f.pix))
}

// ToNativeOrder returns f in BGR order, the inverse of ToDisplayOrder.
func ToNativeOrder(f Frame) Frame {
	if f.order == OrderBGR || f.IsZero() {
		return f
	}
	return wrap(f.width, f.height, OrderBGR, swapOuter(f.pix))
}

// swapOuter exchanges channel 0 and channel 2 of every pixel into a new buffer.
func swapOuter(src []byte) []byte {
	dst := make([]byte, len(src))
	for i := 0; i+2 < len(src); i += Channels {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
	}
	return dst
}

// Image converts the frame into an RGBA image for display consumers
// such as the JPEG encoder. Alpha is always opaque.
func (f Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	r, b := 0, 2
	if f.order == OrderBGR {
		r, b = 2, 0
	}
	for i, j := 0, 0; i+2 < len(f.pix); i, j = i+Channels, j+4 {
		img.Pix[j] = f.pix[i+r]
		img.Pix[j+1] = f.pix[i+1]
		img.Pix[j+2] = f.pix[i+b]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FromImage reconstitutes a native-order frame from a display buffer.
func FromImage(img image.Image) (Frame, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return Frame{}, ErrDimensions
	}

	pix := make([]byte, Size(w, h))
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			pix[i] = c.B
			pix[i+1] = c.G
			pix[i+2] = c.R
			i += Channels
		}
	}
	return wrap(w, h, OrderBGR, pix), nil
}
