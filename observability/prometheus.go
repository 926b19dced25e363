package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "localdocs"

// PrometheusCollector records search, fallback and index cache metrics.
// It satisfies localdocs.MetricsCollector.
type PrometheusCollector struct {
	searches       *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchResults  *prometheus.HistogramVec
	fallbacks      *prometheus.CounterVec
	indexLoads     *prometheus.CounterVec
}

// NewPrometheusCollector registers the collector's metrics with reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusCollector{
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of searches by retrieval mode and status.",
		}, []string{"mode", "status"}),
		searchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search latency in seconds.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"mode"}),
		searchResults: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of results returned per successful search.",
			Buckets:   prometheus.LinearBuckets(0, 4, 9),
		}, []string{"mode"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "fallbacks_total",
			Help:      "Exact-scan fallbacks taken by the ANN path, by reason.",
		}, []string{"reason"}),
		indexLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index_cache",
			Name:      "loads_total",
			Help:      "Index cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordSearch implements localdocs.MetricsCollector.
func (p *PrometheusCollector) RecordSearch(mode string, d time.Duration, results int, err error) {
	p.searches.WithLabelValues(mode, status(err)).Inc()
	p.searchDuration.WithLabelValues(mode).Observe(d.Seconds())
	if err == nil {
		p.searchResults.WithLabelValues(mode).Observe(float64(results))
	}
}

// RecordFallback implements localdocs.MetricsCollector.
func (p *PrometheusCollector) RecordFallback(reason string) {
	p.fallbacks.WithLabelValues(reason).Inc()
}

// RecordIndexLoad implements localdocs.MetricsCollector.
func (p *PrometheusCollector) RecordIndexLoad(hit bool, err error) {
	switch {
	case err != nil:
		p.indexLoads.WithLabelValues("error").Inc()
	case hit:
		p.indexLoads.WithLabelValues("hit").Inc()
	default:
		p.indexLoads.WithLabelValues("miss").Inc()
	}
}
