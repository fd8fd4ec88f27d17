package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg               *prometheus.Registry
	ToolCalls         *prometheus.CounterVec
	ToolLatencySec    *prometheus.HistogramVec
	AnomaliesDetected *prometheus.CounterVec
	FeedbackRecorded  *prometheus.CounterVec
	OutboxPublished   *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "household_tool_calls_total"}, []string{"tool", "status"})
	toolLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "household_tool_latency_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "household_anomalies_detected_total"}, []string{"kind"})
	feedback := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "household_feedback_recorded_total"}, []string{"action"})
	outbox := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "household_outbox_events_total"}, []string{"status"})

	r.MustRegister(toolCalls, toolLatency, anomalies, feedback, outbox)
	return &Registry{
		reg:               r,
		ToolCalls:         toolCalls,
		ToolLatencySec:    toolLatency,
		AnomaliesDetected: anomalies,
		FeedbackRecorded:  feedback,
		OutboxPublished:   outbox,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the underlying registry to tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) ObserveToolCall(tool, status string, elapsed time.Duration) {
	r.ToolCalls.WithLabelValues(tool, status).Inc()
	r.ToolLatencySec.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (r *Registry) AnomaliesDetectedCount(kind string, count int) {
	r.AnomaliesDetected.WithLabelValues(kind).Add(float64(count))
}

func (r *Registry) FeedbackRecordedAction(action string) {
	r.FeedbackRecorded.WithLabelValues(action).Inc()
}

func (r *Registry) OutboxEvent(status string) {
	r.OutboxPublished.WithLabelValues(status).Inc()
}

// EngineRecorder adapts the registry to the engine's counter hooks.
type EngineRecorder struct{ R *Registry }

func (e EngineRecorder) AnomaliesDetected(kind string, count int) { e.R.AnomaliesDetectedCount(kind, count) }
func (e EngineRecorder) FeedbackRecorded(action string)            { e.R.FeedbackRecordedAction(action) }
