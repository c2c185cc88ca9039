package models

import (
	"github.com/smazurov/framecast/internal/capture"
	"github.com/smazurov/framecast/internal/streams"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Stream models
type StartRequestData struct {
	Source string `json:"source" minLength:"1" example:"/videos/clip.mp4" doc:"Camera index (0), device node (/dev/video0) or file path"`
	Egress *bool  `json:"egress,omitempty" doc:"Push to the configured endpoint. Defaults to the egress.enabled setting"`
}

type StartRequest struct {
	Body StartRequestData
}

type UploadRequest struct {
	Filename string `query:"filename" required:"true" example:"clip.mp4" doc:"Original file name, its extension selects the container (mp4, mov, avi)"`
	Egress   string `query:"egress" example:"true" doc:"Override egress for this stream (true or false)"`
	RawBody  []byte `contentType:"application/octet-stream"`
}

type StreamData struct {
	Started bool            `json:"started" doc:"Whether the request resulted in a running stream"`
	Session streams.Session `json:"session" doc:"Current stream state"`
}

type StreamResponse struct {
	Body StreamData
}

type StatusResponse struct {
	Body streams.Session
}

// Settings models. The stream key itself is never returned.
type SettingsData struct {
	EgressEnabled bool   `json:"egress_enabled" doc:"Egress is used when a start request does not say otherwise"`
	Mode          string `json:"mode" enum:"source,pipe" doc:"How the encoder receives file sources"`
	ServerURL     string `json:"server_url" example:"rtmps://live.example.com:443/app" doc:"Ingest endpoint with credentials redacted"`
	StreamKeySet  bool   `json:"stream_key_set" doc:"Whether a stream key is configured"`
	VideoCodec    string `json:"video_codec" example:"libx264"`
	MaxBitrate    string `json:"max_bitrate" example:"3000k"`
	AudioCodec    string `json:"audio_codec" example:"aac"`
	Format        string `json:"format" example:"flv"`
}

type SettingsResponse struct {
	Body SettingsData
}

// Camera models
type CameraListData struct {
	Cameras []capture.CameraInfo `json:"cameras" doc:"Video4Linux capture nodes"`
	Count   int                  `json:"count" example:"1" doc:"Number of cameras"`
}

type CameraListResponse struct {
	Body CameraListData
}

// Preview models
type SnapshotResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	LastModified string `header:"Last-Modified"`
	Body         []byte
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	Modified  bool   `json:"modified" doc:"Built from a tree with uncommitted changes"`
	GoVersion string `json:"go_version" example:"go1.21.0" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}
