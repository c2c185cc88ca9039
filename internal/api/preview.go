package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/framecast/internal/api/models"
	"github.com/smazurov/framecast/internal/preview"
)

// registerPreviewRoutes registers the snapshot endpoint and mounts the MJPEG
// stream, which Huma cannot express, directly on the mux.
func (s *Server) registerPreviewRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "preview-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/preview/snapshot",
		Summary:     "Preview Snapshot",
		Description: "Latest displayed frame as a JPEG",
		Tags:        []string{"preview"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.SnapshotResponse, error) {
		data, at, err := s.preview.Snapshot()
		if err != nil {
			if errors.Is(err, preview.ErrNoFrame) {
				return nil, huma.Error404NotFound("no frame to show, start a stream first")
			}
			return nil, huma.Error500InternalServerError("failed to encode snapshot", err)
		}
		return &models.SnapshotResponse{
			ContentType:  "image/jpeg",
			CacheControl: "no-store",
			LastModified: at.UTC().Format(http.TimeFormat),
			Body:         data,
		}, nil
	})

	s.mux.Handle("GET /api/preview/stream", s.protect(s.preview))
}
