package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/framecast/internal/api/models"
	"github.com/smazurov/framecast/internal/capture"
	"github.com/smazurov/framecast/internal/ffmpeg"
	"github.com/smazurov/framecast/internal/streams"
)

// registerStreamRoutes registers the stream control endpoints
func (s *Server) registerStreamRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream",
		Method:      http.MethodGet,
		Path:        "/api/stream",
		Summary:     "Stream Status",
		Description: "Get the current stream session, or the idle state",
		Tags:        []string{"stream"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		return &models.StatusResponse{Body: s.streams.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-stream",
		Method:      http.MethodPost,
		Path:        "/api/stream/start",
		Summary:     "Start Stream",
		Description: "Open a camera or file and start previewing it, pushing to the configured endpoint when egress is enabled. " +
			"Starting while a stream is running leaves it untouched.",
		Tags:     []string{"stream"},
		Errors:   []int{400, 401, 422, 500, 502},
		Security: withAuth(),
	}, func(ctx context.Context, input *models.StartRequest) (*models.StreamResponse, error) {
		desc, err := capture.ParseDescriptor(input.Body.Source)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid source", err)
		}
		return s.start(ctx, streams.StartRequest{Source: desc, Egress: input.Body.Egress})
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-stream",
		Method:      http.MethodPost,
		Path:        "/api/stream/stop",
		Summary:     "Stop Stream",
		Description: "Stop the running stream and release its resources. Stopping when idle is a no-op.",
		Tags:        []string{"stream"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		if err := s.streams.Stop(); err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.StatusResponse{Body: s.streams.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream-settings",
		Method:      http.MethodGet,
		Path:        "/api/stream/settings",
		Summary:     "Egress Settings",
		Description: "Get the egress settings the next start will use. The stream key is never returned.",
		Tags:        []string{"stream"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.SettingsResponse, error) {
		return &models.SettingsResponse{Body: settingsToAPI(s.streams.Settings())}, nil
	})
}

func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-cameras",
		Method:      http.MethodGet,
		Path:        "/api/cameras",
		Summary:     "List Cameras",
		Description: "List Video4Linux capture nodes usable as sources",
		Tags:        []string{"sources"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.CameraListResponse, error) {
		cameras, err := capture.ListCameras()
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list cameras", err)
		}
		if cameras == nil {
			cameras = []capture.CameraInfo{}
		}
		return &models.CameraListResponse{
			Body: models.CameraListData{Cameras: cameras, Count: len(cameras)},
		}, nil
	})
}

// start runs req and, on success, makes sure frames flow to the preview.
func (s *Server) start(ctx context.Context, req streams.StartRequest) (*models.StreamResponse, error) {
	ok, err := s.streams.Start(ctx, req)
	if !ok {
		return nil, s.mapStreamError(err)
	}
	s.startPump()
	return &models.StreamResponse{
		Body: models.StreamData{Started: true, Session: s.streams.Status()},
	}, nil
}

// startPump keeps one goroutine pulling frames into the preview while a stream runs.
func (s *Server) startPump() {
	if s.preview == nil || s.ctx.Err() != nil {
		return
	}
	if !s.pumping.CompareAndSwap(false, true) {
		return
	}

	s.pumpWG.Add(1)
	go func() {
		defer s.pumpWG.Done()

		err := s.streams.Pump(s.ctx, s.preview)
		s.preview.Reset()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Info("Preview ended", "code", streams.CodeOf(err), "error", err)
		}

		s.pumping.Store(false)
		// A new stream may have started while this one was winding down.
		if s.streams.Status().Streaming() {
			s.startPump()
		}
	}()
}

func settingsToAPI(st streams.Settings) models.SettingsData {
	mode := string(st.Mode)
	if mode == "" {
		mode = "source"
	}
	return models.SettingsData{
		EgressEnabled: st.Egress,
		Mode:          mode,
		ServerURL:     ffmpeg.RedactURL(st.Params.ServerURL),
		StreamKeySet:  st.Params.StreamKey.Get() != "",
		VideoCodec:    st.Params.VideoCodec,
		MaxBitrate:    st.Params.MaxBitrate,
		AudioCodec:    st.Params.AudioCodec,
		Format:        st.Params.Format,
	}
}

// mapStreamError maps domain errors to HTTP errors
func (s *Server) mapStreamError(err error) error {
	var streamErr *streams.StreamError
	if !errors.As(err, &streamErr) {
		return huma.Error500InternalServerError("internal server error", err)
	}
	switch streamErr.Code {
	case streams.ErrCodeOpenFailure:
		return huma.Error422UnprocessableEntity(streamErr.Message, err)
	case streams.ErrCodeEncoderSpawnFailure:
		return huma.Error502BadGateway(streamErr.Message, err)
	case streams.ErrCodeConfigError:
		return huma.Error500InternalServerError(streamErr.Message, err)
	case streams.ErrCodeNotStreaming:
		return huma.Error409Conflict(streamErr.Message, err)
	default:
		return huma.Error500InternalServerError(streamErr.Message, err)
	}
}
