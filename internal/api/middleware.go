package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/smazurov/framecast/internal/logging"
)

// RequestIDHeader carries the request identifier in both directions.
const RequestIDHeader = "X-Request-ID"

// HTTPLoggingMiddleware tags every request with an id and logs it with a level
// based on the status code. Query strings are not logged because SSE clients
// pass credentials in them.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	requestID := ctx.Header(RequestIDHeader)
	if requestID == "" || len(requestID) > 64 {
		requestID = uuid.NewString()
	}
	ctx.SetHeader(RequestIDHeader, requestID)

	method := ctx.Method()
	path := ctx.URL().Path
	logAttrs := []slog.Attr{
		slog.String("request_id", requestID),
		slog.String("method", method),
		slog.String("path", path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if userAgent := ctx.Header("User-Agent"); userAgent != "" {
		logAttrs = append(logAttrs, slog.String("user_agent", userAgent))
	}

	next(ctx)

	status := ctx.Status()
	logAttrs = append(logAttrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	message := "HTTP request completed"
	level := slog.LevelInfo
	switch {
	case method == http.MethodOptions:
		level = slog.LevelDebug
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	case method == http.MethodGet && strings.HasPrefix(path, "/api/health"):
		// Probes hit this constantly.
		level = slog.LevelDebug
	}
	logger.LogAttrs(ctx.Context(), level, message, logAttrs...)
}
