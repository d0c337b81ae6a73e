package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	Detections      *prometheus.CounterVec
	MatchSimilarity prometheus.Histogram
	SynthErrors     *prometheus.CounterVec
	JobEvents       *prometheus.CounterVec
	GPUContention   prometheus.Gauge
	PlaybackLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active dubbing sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Detections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "OCR detections by outcome (stabilized, matched, unmatched, discarded).",
		}, []string{"outcome"}),
		MatchSimilarity: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_similarity",
			Help:      "Similarity score of accepted script matches.",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		}),
		SynthErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synth_errors_total",
			Help:      "Synthesis errors by code.",
		}, []string{"code"}),
		JobEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Background job events by type.",
		}, []string{"event"}),
		GPUContention: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gpu_contention_risk",
			Help:      "1 while live dubbing and background GPU work overlap.",
		}),
		PlaybackLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_latency_ms",
			Help:      "Latency from stabilized detection to playback start in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 5000},
		}),
	}
}

func (m *Metrics) ObservePlaybackLatency(d time.Duration) {
	m.PlaybackLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
