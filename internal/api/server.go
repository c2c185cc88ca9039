package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/framecast/internal/api/models"
	"github.com/smazurov/framecast/internal/events"
	"github.com/smazurov/framecast/internal/logging"
	"github.com/smazurov/framecast/internal/preview"
	"github.com/smazurov/framecast/internal/streams"
	"github.com/smazurov/framecast/internal/version"
	"github.com/smazurov/framecast/ui"
)

const authRealm = `Basic realm="framecast"`

// StreamService is the stream controller as seen by the API.
type StreamService interface {
	Start(ctx context.Context, req streams.StartRequest) (bool, error)
	Stop() error
	Status() streams.Session
	Settings() streams.Settings
	Pump(ctx context.Context, d streams.Display) error
}

// AssetStore keeps uploaded files. Satisfied by *assets.Manager.
type AssetStore interface {
	Acquire(data []byte, ext string) (string, error)
	Release(path string) error
}

// Server represents the Huma v2 API server
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	streams    StreamService
	assets     AssetStore
	preview    *preview.Hub
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger

	// ctx bounds background preview pumps.
	ctx     context.Context
	cancel  context.CancelFunc
	pumping atomic.Bool
	pumpWG  sync.WaitGroup
}

// Options configures the API server.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	CORSOrigin        string // "" = "*"
	MaxUploadBytes    int64
	StreamService     StreamService
	Assets            AssetStore   // nil disables uploads
	Preview           *preview.Hub // nil disables preview routes and the frame pump
	EventBus          *events.Bus  // nil disables SSE routes
	PrometheusHandler http.Handler // Optional Prometheus metrics handler
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	if opts.CORSOrigin != "" {
		corsConfig.AllowOrigin = opts.CORSOrigin
	}
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("framecast API", version.String())
	config.Info.Description = "Preview a camera or video file and push it to a streaming endpoint"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		api:      api,
		mux:      mux,
		streams:  opts.StreamService,
		assets:   opts.Assets,
		preview:  opts.Preview,
		eventBus: opts.EventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
		ctx:      ctx,
		cancel:   cancel,
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if server.authEnabled() {
		api.UseMiddleware(server.basicAuthMiddleware())
	}

	// Registered on the mux directly, outside Huma and without auth.
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()

	if frontendHandler, err := ui.Handler(); err == nil {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api") {
				http.NotFound(w, r)
				return
			}
			frontendHandler.ServeHTTP(w, r)
		})
	}

	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves HTTP on addr until Stop.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting framecast API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the HTTP server and preview clients. It does not stop a
// running stream.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	s.cancel()
	if s.preview != nil {
		s.preview.Close()
	}
	s.pumpWG.Wait()

	// Force immediate shutdown - don't wait for connections
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				Modified:  info.Modified,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerStreamRoutes()
	s.registerCameraRoutes()
	if s.assets != nil {
		s.registerUploadRoutes()
	}
	if s.preview != nil {
		s.registerPreviewRoutes()
	}
	if s.eventBus != nil {
		s.registerEventStreams()
	}
}

func (s *Server) authEnabled() bool {
	return s.options.AuthUsername != "" && s.options.AuthPassword != ""
}

// basicAuthMiddleware rejects requests to secured operations without valid
// credentials. SSE clients cannot set headers, so ?auth=<base64> is accepted too.
func (s *Server) basicAuthMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		if msg := s.checkCredentials(ctx.Header("Authorization"), ctx.Query("auth")); msg != "" {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg)
			return
		}
		next(ctx)
	}
}

// protect applies the same credential check to handlers mounted outside Huma.
func (s *Server) protect(h http.Handler) http.Handler {
	if !s.authEnabled() {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if msg := s.checkCredentials(r.Header.Get("Authorization"), r.URL.Query().Get("auth")); msg != "" {
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, msg, http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// checkCredentials returns "" when the credentials are valid, otherwise the reason.
func (s *Server) checkCredentials(header, query string) string {
	var encoded string
	switch {
	case header != "":
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return "Invalid authentication type"
		}
		encoded = header[len(prefix):]
	case query != "":
		encoded = query
	default:
		return "Authentication required"
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "Invalid credentials format"
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "Invalid credentials format"
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.options.AuthUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.options.AuthPassword)) == 1
	if !userOK || !passOK {
		return "Invalid credentials"
	}
	return ""
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
