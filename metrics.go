package sparsecount

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordCount is called after each facet count operation.
	// hits is the number of matching documents, duration the total time
	// taken including fill and extraction, err is nil if successful.
	RecordCount(field string, hits int, duration time.Duration, err error)

	// RecordExtract is called after top-K extraction.
	// terms is the number of terms returned.
	RecordExtract(field string, terms int, duration time.Duration)

	// RecordSparse is called with the estimator's verdict for a request.
	RecordSparse(field string, sparse bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCount(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordExtract(string, int, time.Duration)     {}
func (NoopMetricsCollector) RecordSparse(string, bool)                    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CountCalls        atomic.Int64
	CountErrors       atomic.Int64
	CountTotalNanos   atomic.Int64
	ExtractCalls      atomic.Int64
	ExtractTerms      atomic.Int64
	ExtractTotalNanos atomic.Int64
	SparseRequests    atomic.Int64
	NonSparseRequests atomic.Int64
}

// RecordCount implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCount(_ string, _ int, duration time.Duration, err error) {
	b.CountCalls.Add(1)
	b.CountTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CountErrors.Add(1)
	}
}

// RecordExtract implements MetricsCollector.
func (b *BasicMetricsCollector) RecordExtract(_ string, terms int, duration time.Duration) {
	b.ExtractCalls.Add(1)
	b.ExtractTerms.Add(int64(terms))
	b.ExtractTotalNanos.Add(duration.Nanoseconds())
}

// RecordSparse implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSparse(_ string, sparse bool) {
	if sparse {
		b.SparseRequests.Add(1)
	} else {
		b.NonSparseRequests.Add(1)
	}
}
