package exporters

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smazurov/framecast/internal/metrics"
)

type fixedDrops uint64

func (f fixedDrops) Dropped() uint64 { return uint64(f) }

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	return w.Body.String()
}

func TestHTTPHandler(t *testing.T) {
	metrics.SetEncoderFPS("http-test-session", 25.0)
	defer metrics.DeleteEncoderMetrics("http-test-session")
	metrics.IncStreamError("CONFIG_ERROR")

	body := scrape(t, HTTPHandler(fixedDrops(3)))
	for _, want := range []string{
		"framecast_encoder_fps",
		"framecast_stream_errors_total",
		"framecast_events_dropped_total 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response", want)
		}
	}

	// Handlers are independent; building a second one must not panic.
	if body := scrape(t, HTTPHandler(nil)); strings.Contains(body, "framecast_events_dropped_total") {
		t.Error("drop counter exported without a bus")
	}
}
