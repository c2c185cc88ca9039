package ffmpeg

import (
	"fmt"
	"strconv"
)

// Default binaries. Tests and non-standard installs override them through configuration.
const (
	DefaultFFmpegBinary  = "ffmpeg"
	DefaultFFprobeBinary = "ffprobe"
)

// Base returns the standard leading flags for every ffmpeg invocation.
// -loglevel level+info prefixes each stderr line with its level for ParseLogLevel.
func Base() []string {
	return []string{"-hide_banner", "-loglevel", "level+info", "-nostats", "-progress", "pipe:2"}
}

// EgressInput describes where the encoder takes its video from.
type EgressInput struct {
	// Path is the source file read directly by the encoder. Ignored when Pipe is set.
	Path string
	// Pipe makes the encoder read raw bgr24 frames from stdin.
	Pipe bool
	// Width and Height of piped frames.
	Width  int
	Height int
}

// BuildEgressArgs builds the encoder argument list. The output URL is always last.
func BuildEgressArgs(in EgressInput, p StreamParams) ([]string, error) {
	args := Base()

	if in.Pipe {
		if in.Width <= 0 || in.Height <= 0 {
			return nil, fmt.Errorf("pipe input requires dimensions, got %dx%d", in.Width, in.Height)
		}
		rate := p.FrameRate
		if rate <= 0 {
			rate = 30
		}
		args = append(args,
			"-f", "rawvideo",
			"-pix_fmt", "bgr24",
			"-video_size", fmt.Sprintf("%dx%d", in.Width, in.Height),
			"-framerate", strconv.Itoa(rate),
			// Frames arrive at the source's pace, which may differ from rate.
			"-use_wallclock_as_timestamps", "1",
			"-i", "-",
			// Raw frames carry no audio; generate silence so the mux always has an audio track.
			"-f", "lavfi",
			"-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", p.AudioSampleRate),
			"-map", "0:v:0", "-map", "1:a:0",
			"-shortest",
		)
	} else {
		if in.Path == "" {
			return nil, fmt.Errorf("source path is empty")
		}
		args = append(args, "-re", "-i", in.Path)
	}

	if p.VideoCodec != "" {
		args = append(args, "-c:v", p.VideoCodec)
	}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.MaxBitrate != "" {
		args = append(args, "-maxrate", p.MaxBitrate)
	}
	if p.BufferSize != "" {
		args = append(args, "-bufsize", p.BufferSize)
	}
	if p.PixelFormat != "" {
		args = append(args, "-pix_fmt", p.PixelFormat)
	}
	if p.KeyframeInterval > 0 {
		args = append(args, "-g", strconv.Itoa(p.KeyframeInterval))
	}

	if p.AudioCodec != "" {
		args = append(args, "-c:a", p.AudioCodec)
	}
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	if p.AudioSampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(p.AudioSampleRate))
	}

	if p.Format != "" {
		args = append(args, "-f", p.Format)
	}
	return append(args, p.OutputURL()), nil
}

// DecodeOptions controls the FrameSource decoder.
type DecodeOptions struct {
	Device bool // v4l2 capture node rather than a file
	Width  int  // scale to this size when set
	Height int
	Loop   bool // restart files at EOF
	// Realtime reads files at their native frame rate (-re). Devices are
	// paced by the hardware and ignore it.
	Realtime bool
}

// BuildDecodeArgs builds a decoder that writes packed bgr24 frames to stdout.
func BuildDecodeArgs(path string, opts DecodeOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "level+warning", "-nostdin"}
	if opts.Device {
		args = append(args, "-f", "v4l2")
	} else {
		if opts.Realtime {
			args = append(args, "-re")
		}
		if opts.Loop {
			args = append(args, "-stream_loop", "-1")
		}
	}
	args = append(args, "-i", path, "-an")
	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height))
	}
	return append(args, "-f", "rawvideo", "-pix_fmt", "bgr24", "-")
}

// BuildProbeArgs builds an ffprobe call that prints the first video stream's size as JSON.
func BuildProbeArgs(path string, device bool) []string {
	args := []string{"-hide_banner", "-v", "error"}
	if device {
		args = append(args, "-f", "v4l2")
	}
	return append(args,
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	)
}
