package localdocs

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// It is passed to the retrieval engine and the index cache.
//
// observability.PrometheusCollector exports these to Prometheus.
type MetricsCollector interface {
	// RecordSearch is called after each search. mode is the effective
	// retrieval mode, results the number returned, err nil on success.
	RecordSearch(mode string, duration time.Duration, results int, err error)

	// RecordFallback is called whenever the ANN path degrades to an exact
	// scan, for one document or the whole request.
	RecordFallback(reason string)

	// RecordIndexLoad is called after each index cache lookup.
	RecordIndexLoad(hit bool, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSearch(string, time.Duration, int, error) {}
func (NoopMetricsCollector) RecordFallback(string)                          {}
func (NoopMetricsCollector) RecordIndexLoad(bool, error)                    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests.
type BasicMetricsCollector struct {
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	ResultsTotal     atomic.Int64
	FallbackCount    atomic.Int64
	IndexHits        atomic.Int64
	IndexMisses      atomic.Int64
	IndexErrors      atomic.Int64

	mu        sync.Mutex
	fallbacks map[string]int64
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ string, duration time.Duration, results int, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
		return
	}
	b.ResultsTotal.Add(int64(results))
}

// RecordFallback implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFallback(reason string) {
	b.FallbackCount.Add(1)
	b.mu.Lock()
	if b.fallbacks == nil {
		b.fallbacks = make(map[string]int64)
	}
	b.fallbacks[reason]++
	b.mu.Unlock()
}

// RecordIndexLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIndexLoad(hit bool, err error) {
	switch {
	case err != nil:
		b.IndexErrors.Add(1)
	case hit:
		b.IndexHits.Add(1)
	default:
		b.IndexMisses.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: b.getAvgSearchNanos(),
		ResultsTotal:   b.ResultsTotal.Load(),
		FallbackCount:  b.FallbackCount.Load(),
		IndexHits:      b.IndexHits.Load(),
		IndexMisses:    b.IndexMisses.Load(),
		IndexErrors:    b.IndexErrors.Load(),
		Fallbacks:      make(map[string]int64),
	}
	b.mu.Lock()
	for k, v := range b.fallbacks {
		s.Fallbacks[k] = v
	}
	b.mu.Unlock()
	return s
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	ResultsTotal   int64
	FallbackCount  int64
	IndexHits      int64
	IndexMisses    int64
	IndexErrors    int64
	Fallbacks      map[string]int64
}
