package ffmpeg

import (
	"strconv"
	"strings"
)

// ffmpegLevels are the names -loglevel level+... prints.
var ffmpegLevels = map[string]bool{
	"quiet": true, "panic": true, "fatal": true, "error": true, "warning": true,
	"info": true, "verbose": true, "debug": true, "trace": true,
}

// ParseLogLevel splits a "-loglevel level+info" stderr line into its level
// and message. The level tag is either first ("[error] msg") or follows a
// component tag ("[flv @ 0x..] [warning] msg"); the component tag stays in
// the message. Untagged lines are info.
func ParseLogLevel(line string) (level, msg string) {
	rest, prefix := line, ""
	for range 2 {
		tag, after, ok := leadingTag(rest)
		if !ok {
			break
		}
		if ffmpegLevels[tag] {
			return tag, prefix + after
		}
		prefix += "[" + tag + "] "
		rest = after
	}
	return "info", line
}

func leadingTag(s string) (tag, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	return strings.Cut(s[1:], "] ")
}

// Progress is one block of "-progress" key=value output.
type Progress struct {
	Frame   int64
	FPS     float64
	Bitrate float64 // kbit/s
	Dropped int64
	Speed   float64
	Done    bool
}

// ProgressParser accumulates "-progress" key=value lines until a progress= terminator.
type ProgressParser struct {
	cur Progress
}

// Feed consumes one line. It returns the completed block and true when the line
// was a progress= terminator. Non key=value lines are ignored.
func (p *ProgressParser) Feed(line string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return Progress{}, false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		p.cur.Frame, _ = strconv.ParseInt(value, 10, 64)
	case "fps":
		p.cur.FPS, _ = strconv.ParseFloat(value, 64)
	case "bitrate":
		p.cur.Bitrate, _ = strconv.ParseFloat(strings.TrimSuffix(value, "kbits/s"), 64)
	case "drop_frames":
		p.cur.Dropped, _ = strconv.ParseInt(value, 10, 64)
	case "speed":
		p.cur.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
	case "progress":
		out := p.cur
		out.Done = value == "end"
		p.cur = Progress{}
		return out, true
	}
	return Progress{}, false
}

// IsProgressLine reports whether line belongs to the "-progress" stream rather than the log.
func IsProgressLine(line string) bool {
	key, _, ok := strings.Cut(line, "=")
	if !ok || strings.ContainsAny(key, " [") {
		return false
	}
	switch key {
	case "frame", "fps", "stream_0_0_q", "bitrate", "total_size", "out_time_us", "out_time_ms",
		"out_time", "dup_frames", "drop_frames", "speed", "progress":
		return true
	}
	return false
}
