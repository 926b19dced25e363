package localdocs

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/localdocs/internal/resource"
	"github.com/hupe1980/localdocs/retrieval"
)

// ResourceLimits bounds the memory held by cached indexes, the artifact read
// rate and the number of concurrent imports. Zero values mean unlimited.
type ResourceLimits = resource.Config

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	tuning           retrieval.Tuning
	limits           *ResourceLimits
	queueSize        int
	tracerProvider   trace.TracerProvider
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. Pass nil to disable logging.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// searches, fallbacks and index loads. Pass nil to disable metrics collection.
//
// Example:
//
//	metrics := &localdocs.BasicMetricsCollector{}
//	db, _ := localdocs.Open(st, blobs, localdocs.WithMetricsCollector(metrics))
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithTuning overrides the ranking constants of the engine.
func WithTuning(t retrieval.Tuning) Option {
	return func(o *options) {
		o.tuning = t
	}
}

// WithResourceLimits bounds memory, IO and background work.
func WithResourceLimits(limits ResourceLimits) Option {
	return func(o *options) {
		o.limits = &limits
	}
}

// WithQueueSize sets how many searches may wait for the worker.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used for search
// spans. The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}
