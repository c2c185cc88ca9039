package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind distinguishes camera devices from files.
type Kind uint8

const (
	KindFile Kind = iota
	KindDevice
)

func (k Kind) String() string {
	if k == KindDevice {
		return "device"
	}
	return "file"
}

// ErrEmptyDescriptor is returned when parsing an empty source string.
var ErrEmptyDescriptor = errors.New("empty source descriptor")

// Descriptor identifies a video source: a camera index, a device node or a file path.
type Descriptor struct {
	Kind  Kind
	Index int    // camera index, KindDevice without Node
	Node  string // explicit device node such as /dev/video2 or a /dev/v4l/by-id link
	File  string // KindFile
}

// Camera returns a descriptor for camera index i.
func Camera(i int) Descriptor {
	return Descriptor{Kind: KindDevice, Index: i}
}

// File returns a descriptor for a file path.
func File(path string) Descriptor {
	return Descriptor{Kind: KindFile, File: path}
}

// ParseDescriptor interprets s as a camera index when it is all digits, as a
// device node when it names /dev/video* or a stable v4l symlink id, and as a
// file path otherwise.
func ParseDescriptor(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Descriptor{}, ErrEmptyDescriptor
	}

	if i, err := strconv.Atoi(s); err == nil && i >= 0 && !strings.HasPrefix(s, "+") {
		return Camera(i), nil
	}

	switch {
	case strings.HasPrefix(s, "/dev/video"), strings.HasPrefix(s, "/dev/v4l/"):
		return Descriptor{Kind: KindDevice, Node: s}, nil
	case strings.HasPrefix(s, "usb-"):
		return Descriptor{Kind: KindDevice, Node: "/dev/v4l/by-id/" + s}, nil
	case strings.HasPrefix(s, "platform-"):
		return Descriptor{Kind: KindDevice, Node: "/dev/v4l/by-path/" + s}, nil
	}

	return File(s), nil
}

// IsDevice reports whether the descriptor names a capture device.
func (d Descriptor) IsDevice() bool { return d.Kind == KindDevice }

// Path resolves the descriptor to something the decoder can open.
func (d Descriptor) Path() string {
	if d.Kind == KindFile {
		return d.File
	}
	if d.Node != "" {
		return d.Node
	}
	return fmt.Sprintf("/dev/video%d", d.Index)
}

func (d Descriptor) String() string {
	if d.Kind == KindDevice && d.Node == "" {
		return fmt.Sprintf("camera:%d", d.Index)
	}
	return d.Kind.String() + ":" + d.Path()
}
