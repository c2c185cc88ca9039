package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/framecast/internal/api/models"
	"github.com/smazurov/framecast/internal/assets"
	"github.com/smazurov/framecast/internal/capture"
	"github.com/smazurov/framecast/internal/streams"
)

const (
	defaultMaxUploadBytes = 1 << 30
	uploadReadTimeout     = 10 * time.Minute
)

// registerUploadRoutes registers the upload-and-stream endpoint. The upload is
// kept as a temporary file that is deleted when its stream ends.
func (s *Server) registerUploadRoutes() {
	limit := s.options.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}

	huma.Register(s.api, huma.Operation{
		OperationID:     "upload-stream",
		Method:          http.MethodPost,
		Path:            "/api/stream/upload",
		Summary:         "Upload and Stream",
		Description:     "Upload an mp4, mov or avi file as the request body and start streaming it.",
		Tags:            []string{"stream"},
		Errors:          []int{400, 401, 413, 422, 500, 502},
		Security:        withAuth(),
		MaxBodyBytes:    limit,
		BodyReadTimeout: uploadReadTimeout,
	}, func(ctx context.Context, input *models.UploadRequest) (*models.StreamResponse, error) {
		req := streams.StartRequest{}
		if input.Egress != "" {
			v, err := strconv.ParseBool(input.Egress)
			if err != nil {
				return nil, huma.Error400BadRequest("egress must be true or false", err)
			}
			req.Egress = &v
		}

		path, err := s.assets.Acquire(input.RawBody, filepath.Ext(input.Filename))
		if err != nil {
			switch {
			case errors.Is(err, assets.ErrUnsupportedExtension), errors.Is(err, assets.ErrEmptyUpload):
				return nil, huma.Error400BadRequest(err.Error(), err)
			case errors.Is(err, assets.ErrTooLarge):
				return nil, huma.NewError(http.StatusRequestEntityTooLarge, err.Error())
			default:
				return nil, huma.Error500InternalServerError("failed to store upload", err)
			}
		}

		req.Source = capture.File(path)
		req.TempAsset = path
		// The controller owns path from here on, including on failure.
		return s.start(ctx, req)
	})
}
