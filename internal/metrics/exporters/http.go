// Package exporters publishes metrics over HTTP (Prometheus) and the event
// bus (SSE).
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DropCounter reports events lost by slow subscribers. *events.Bus implements it.
type DropCounter interface {
	Dropped() uint64
}

// HTTPHandler serves everything registered through promauto, plus
// framecast_events_dropped_total when bus is non-nil.
func HTTPHandler(bus DropCounter) http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	if bus != nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "framecast",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events discarded because an SSE subscriber fell behind",
		}, func() float64 { return float64(bus.Dropped()) }))
		gatherers = append(gatherers, reg)
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
