package ffmpeg

import (
	"errors"
	"net/url"
	"strings"

	"github.com/xaionaro-go/secret"
)

// ErrMissingEndpoint and ErrMissingStreamKey are configuration errors raised
// before any encoder process is spawned.
var (
	ErrMissingEndpoint  = errors.New("egress endpoint is not configured")
	ErrMissingStreamKey = errors.New("egress stream key is not configured")
)

// StreamParams represents the fixed encode and mux settings for one egress session.
// The stream key is held as a secret and only unwrapped when building the output URL.
type StreamParams struct {
	// Endpoint
	ServerURL string        // rtmps://live.example.com:443/app
	StreamKey secret.String // appended to ServerURL as the last path segment

	// Video
	VideoCodec       string // libx264
	Preset           string // veryfast
	MaxBitrate       string // 3000k
	BufferSize       string // 6000k
	PixelFormat      string // yuv420p
	KeyframeInterval int    // GOP length in frames
	FrameRate        int    // nominal input rate in pipe mode (0 = 30); timestamps follow the wall clock

	// Audio
	AudioCodec      string // aac
	AudioBitrate    string // 128k
	AudioSampleRate int    // 44100

	// Output
	Format string // flv
}

// DefaultStreamParams returns the fixed parameter set used for every stream.
// Endpoint and stream key are left empty and must come from configuration.
func DefaultStreamParams() StreamParams {
	return StreamParams{
		VideoCodec:       "libx264",
		Preset:           "veryfast",
		MaxBitrate:       "3000k",
		BufferSize:       "6000k",
		PixelFormat:      "yuv420p",
		KeyframeInterval: 50,
		FrameRate:        30,
		AudioCodec:       "aac",
		AudioBitrate:     "128k",
		AudioSampleRate:  44100,
		Format:           "flv",
	}
}

// WithStreamKey returns a copy of p carrying key.
func (p StreamParams) WithStreamKey(key string) StreamParams {
	p.StreamKey = secret.New(key)
	return p
}

// Validate reports a configuration error when the endpoint or stream key is missing.
func (p StreamParams) Validate() error {
	if strings.TrimSpace(p.ServerURL) == "" {
		return ErrMissingEndpoint
	}
	if strings.TrimSpace(p.StreamKey.Get()) == "" {
		return ErrMissingStreamKey
	}
	return nil
}

// OutputURL joins the server URL and the stream key.
func (p StreamParams) OutputURL() string {
	return strings.TrimRight(p.ServerURL, "/") + "/" + p.StreamKey.Get()
}

// RedactURL masks the last path segment (the stream key) and any userinfo of
// an ingest URL so it can be logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<redacted>"
	}
	if u.User != nil {
		u.User = url.User("xxxxx")
	}
	u.RawQuery = ""
	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 && i < len(path)-1 {
		u.Path = path[:i+1] + "xxxxx"
	}
	return u.String()
}

// RedactArgs returns a copy of args with the stream key masked wherever it appears.
func RedactArgs(args []string, key string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if key != "" && strings.Contains(a, key) {
			a = strings.ReplaceAll(a, key, "xxxxx")
		}
		out[i] = a
	}
	return out
}
