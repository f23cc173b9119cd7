// Package observer defines logging and metrics hooks for sandbox execution.
package observer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "arenajudge"

// MetricsRecorder records sandbox and scheduler metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryBytes int64)
	ObserveRun(ctx context.Context, languageID string, status string, timeMs int64, memoryBytes int64)
	ObserveVerdict(ctx context.Context, languageID string, status string)
	ObserveRetry(ctx context.Context, reason string)
	SetQueueDepth(depth int)
}

// NoopMetricsRecorder drops every observation.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(context.Context, string, bool, int64, int64) {}
func (NoopMetricsRecorder) ObserveRun(context.Context, string, string, int64, int64)   {}
func (NoopMetricsRecorder) ObserveVerdict(context.Context, string, string)             {}
func (NoopMetricsRecorder) ObserveRetry(context.Context, string)                       {}
func (NoopMetricsRecorder) SetQueueDepth(int)                                          {}

var (
	// 1ms -> 10s
	timeBuckets = []float64{
		0.001, 0.002, 0.005, 0.010, 0.025, 0.050, 0.1, 0.2,
		0.4, 0.6, 0.8, 1.0, 1.5, 2, 5, 10,
	}
	// 1m (1<<20) -> 4g (1<<32)
	memoryBuckets = prometheus.ExponentialBuckets(1<<20, 2, 13)
)

// PrometheusRecorder exports observations as prometheus collectors.
type PrometheusRecorder struct {
	compileTime *prometheus.HistogramVec
	runTime     *prometheus.HistogramVec
	runMemory   *prometheus.HistogramVec
	verdicts    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sandbox",
			Name:      "compile_seconds",
			Help:      "Histogram for compile step duration",
			Buckets:   timeBuckets,
		}, []string{"language", "ok"}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sandbox",
			Name:      "run_seconds",
			Help:      "Histogram for test run wall time",
			Buckets:   timeBuckets,
		}, []string{"language", "status"}),
		runMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sandbox",
			Name:      "run_memory_bytes",
			Help:      "Histogram for test run peak memory",
			Buckets:   memoryBuckets,
		}, []string{"language"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "judge",
			Name:      "verdicts_total",
			Help:      "Number of finished submissions by status",
		}, []string{"language", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "judge",
			Name:      "retries_total",
			Help:      "Number of infrastructure retries",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "judge",
			Name:      "queue_depth",
			Help:      "Submissions waiting for a judge slot",
		}),
	}
	for _, c := range []prometheus.Collector{r.compileTime, r.runTime, r.runMemory, r.verdicts, r.retries, r.queueDepth} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryBytes int64) {
	label := "false"
	if ok {
		label = "true"
	}
	r.compileTime.WithLabelValues(languageID, label).Observe(seconds(timeMs))
}

func (r *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, status string, timeMs int64, memoryBytes int64) {
	r.runTime.WithLabelValues(languageID, status).Observe(seconds(timeMs))
	r.runMemory.WithLabelValues(languageID).Observe(float64(memoryBytes))
}

func (r *PrometheusRecorder) ObserveVerdict(ctx context.Context, languageID string, status string) {
	r.verdicts.WithLabelValues(languageID, status).Inc()
}

func (r *PrometheusRecorder) ObserveRetry(ctx context.Context, reason string) {
	r.retries.WithLabelValues(reason).Inc()
}

func (r *PrometheusRecorder) SetQueueDepth(depth int) {
	r.queueDepth.Set(float64(depth))
}

func seconds(ms int64) float64 {
	return (time.Duration(ms) * time.Millisecond).Seconds()
}
