package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsRecorder counts and times service operations.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the operation collectors on reg. A nil
// registerer uses the default registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospitalcore",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Workflow operations by name and result.",
		}, []string{"operation", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hospitalcore",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Workflow operation latency, including the durable write.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	r.operations.WithLabelValues(operation, result).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// MultiMetricsRecorder fans observations out to several recorders.
type MultiMetricsRecorder []MetricsRecorder

// Observe implements MetricsRecorder.
func (m MultiMetricsRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		if r != nil {
			r.Observe(ctx, operation, success, duration)
		}
	}
}
