package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowOrigin   string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        int
}

// DefaultCORSConfig returns permissive CORS config for a LAN control page
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:   "*",
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        86400,
	}
}

type corsHeaders struct {
	origin, methods, headers, expose, maxAge string
}

func (c CORSConfig) headers() corsHeaders {
	return corsHeaders{
		origin:  c.AllowOrigin,
		methods: strings.Join(c.AllowMethods, ", "),
		headers: strings.Join(c.AllowHeaders, ", "),
		expose:  strings.Join(c.ExposeHeaders, ", "),
		maxAge:  strconv.Itoa(c.MaxAge),
	}
}

func (h corsHeaders) apply(set func(name, value string)) {
	set("Access-Control-Allow-Origin", h.origin)
	set("Access-Control-Allow-Methods", h.methods)
	set("Access-Control-Allow-Headers", h.headers)
	if h.expose != "" {
		set("Access-Control-Expose-Headers", h.expose)
	}
	set("Access-Control-Max-Age", h.maxAge)
}

// NewCORSMiddleware creates CORS middleware with the given configuration
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	h := config.headers()
	return func(ctx huma.Context, next func(huma.Context)) {
		h.apply(ctx.SetHeader)
		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			return
		}
		next(ctx)
	}
}

// AddCORSHandler answers preflight requests on the mux, since Huma middleware
// only runs for routes it registered.
func AddCORSHandler(mux *http.ServeMux, config CORSConfig) {
	h := config.headers()
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		h.apply(w.Header().Set)
		w.WriteHeader(http.StatusNoContent)
	})
}
