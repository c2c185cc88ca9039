package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framecast",
		Subsystem: "stream",
		Name:      "active",
		Help:      "1 while the controller is streaming, 0 when idle",
	})

	streamStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framecast",
		Subsystem: "stream",
		Name:      "starts_total",
		Help:      "Successful stream starts by source kind and egress mode",
	}, []string{"source_kind", "egress"})

	streamStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framecast",
		Subsystem: "stream",
		Name:      "stops_total",
		Help:      "Stream stops by reason",
	}, []string{"reason"})

	streamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framecast",
		Subsystem: "stream",
		Name:      "errors_total",
		Help:      "Stream errors by code",
	}, []string{"code"})

	framesRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framecast",
		Subsystem: "capture",
		Name:      "frames_read_total",
		Help:      "Frames delivered by the frame source",
	})

	framesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framecast",
		Subsystem: "egress",
		Name:      "frames_written_total",
		Help:      "Frames piped into the encoder",
	})

	previewClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framecast",
		Subsystem: "preview",
		Name:      "clients",
		Help:      "Connected MJPEG preview clients",
	})
)

// SetStreamActive flips the streaming gauge.
func SetStreamActive(active bool) {
	if active {
		streamActive.Set(1)
		return
	}
	streamActive.Set(0)
}

// IncStreamStart counts a successful start.
func IncStreamStart(sourceKind, egress string) {
	if egress == "" {
		egress = "none"
	}
	streamStarts.WithLabelValues(sourceKind, egress).Inc()
}

// IncStreamStop counts a transition back to idle.
func IncStreamStop(reason string) {
	streamStops.WithLabelValues(reason).Inc()
}

// IncStreamError counts an error by its stable code.
func IncStreamError(code string) {
	streamErrors.WithLabelValues(code).Inc()
}

// IncFramesRead counts one frame read from the source.
func IncFramesRead() { framesRead.Inc() }

// IncFramesWritten counts one frame piped into the encoder.
func IncFramesWritten() { framesWritten.Inc() }

// AddPreviewClients adjusts the preview client gauge by delta.
func AddPreviewClients(delta int) { previewClients.Add(float64(delta)) }
