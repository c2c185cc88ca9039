// Package metrics provides Prometheus metrics for the encoder and the stream controller.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encoderFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framecast",
		Subsystem: "encoder",
		Name:      "fps",
		Help:      "Current encoder output FPS",
	}, []string{"session_id"})

	encoderBitrate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framecast",
		Subsystem: "encoder",
		Name:      "bitrate_kbps",
		Help:      "Current encoder output bitrate in kbit/s",
	}, []string{"session_id"})

	encoderDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framecast",
		Subsystem: "encoder",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped by the encoder",
	}, []string{"session_id"})

	encoderSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framecast",
		Subsystem: "encoder",
		Name:      "processing_speed",
		Help:      "Encoder processing speed multiplier",
	}, []string{"session_id"})

	// Local cache for SSE exporter access.
	encoderCache   = make(map[string]*EncoderMetrics)
	encoderCacheMu sync.RWMutex
)

// EncoderMetrics holds current metric values for an encoder session.
type EncoderMetrics struct {
	Frame         int64
	FPS           float64
	BitrateKbps   float64
	DroppedFrames float64
	Speed         float64
}

// SetEncoderFrame records the last encoded frame number. It is cache only.
func SetEncoderFrame(sessionID string, frame int64) {
	updateCache(sessionID, func(m *EncoderMetrics) { m.Frame = frame })
}

// SetEncoderFPS sets the current FPS for a session.
func SetEncoderFPS(sessionID string, fps float64) {
	encoderFPS.WithLabelValues(sessionID).Set(fps)
	updateCache(sessionID, func(m *EncoderMetrics) { m.FPS = fps })
}

// SetEncoderBitrate sets the current output bitrate for a session.
func SetEncoderBitrate(sessionID string, kbps float64) {
	encoderBitrate.WithLabelValues(sessionID).Set(kbps)
	updateCache(sessionID, func(m *EncoderMetrics) { m.BitrateKbps = kbps })
}

// SetEncoderDroppedFrames sets the dropped frames count for a session.
func SetEncoderDroppedFrames(sessionID string, count float64) {
	encoderDroppedFrames.WithLabelValues(sessionID).Set(count)
	updateCache(sessionID, func(m *EncoderMetrics) { m.DroppedFrames = count })
}

// SetEncoderSpeed sets the processing speed for a session.
func SetEncoderSpeed(sessionID string, speed float64) {
	encoderSpeed.WithLabelValues(sessionID).Set(speed)
	updateCache(sessionID, func(m *EncoderMetrics) { m.Speed = speed })
}

// DeleteEncoderMetrics removes all metrics for a session.
func DeleteEncoderMetrics(sessionID string) {
	encoderFPS.DeleteLabelValues(sessionID)
	encoderBitrate.DeleteLabelValues(sessionID)
	encoderDroppedFrames.DeleteLabelValues(sessionID)
	encoderSpeed.DeleteLabelValues(sessionID)

	encoderCacheMu.Lock()
	delete(encoderCache, sessionID)
	encoderCacheMu.Unlock()
}

// GetEncoderMetrics returns current metric values for a session.
func GetEncoderMetrics(sessionID string) *EncoderMetrics {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	if m, ok := encoderCache[sessionID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllEncoderMetrics returns metrics for all active sessions.
func GetAllEncoderMetrics() map[string]*EncoderMetrics {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	result := make(map[string]*EncoderMetrics, len(encoderCache))
	for id, m := range encoderCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateCache(sessionID string, update func(*EncoderMetrics)) {
	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()
	m, ok := encoderCache[sessionID]
	if !ok {
		m = &EncoderMetrics{}
		encoderCache[sessionID] = m
	}
	update(m)
}
