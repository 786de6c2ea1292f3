package sparsecount

import (
	"github.com/hupe1980/sparsecount/pool"
)

type options struct {
	keys            pool.Keys
	poolSize        int
	poolMinEmpty    int
	cleaningThreads int
	clearRate       float64
	logger          *Logger
	metrics         MetricsCollector
	heapExponent    int
}

// Option configures Engine construction.
type Option func(*options)

// WithKeys replaces the default faceting parameters. Per-request values
// (such as the cache token) are still taken from the Request.
func WithKeys(keys pool.Keys) Option {
	return func(o *options) {
		o.keys = keys
	}
}

// WithSparse toggles sparse tracking.
func WithSparse(sparse bool) Option {
	return func(o *options) {
		o.keys.Sparse = sparse
	}
}

// WithMinTags sets the minimum unique-value count below which sparse
// tracking is disabled.
func WithMinTags(minTags int) Option {
	return func(o *options) {
		o.keys.MinTags = minTags
	}
}

// WithFraction sizes the sparse tracker relative to the unique-value count.
func WithFraction(fraction float64) Option {
	return func(o *options) {
		o.keys.Fraction = fraction
	}
}

// WithCutOff sets the estimator threshold.
func WithCutOff(cutOff float64) Option {
	return func(o *options) {
		o.keys.CutOff = cutOff
	}
}

// WithPacked prefers the n-plane counter structure over a plain packed
// vector whenever the field's maximum count fits the packed bit limit.
func WithPacked(packed bool) Option {
	return func(o *options) {
		o.keys.Packed = packed
	}
}

// WithPackedLimit sets the maximum bit-width for choosing the n-plane
// structure.
func WithPackedLimit(limit int) Option {
	return func(o *options) {
		o.keys.PackedLimit = limit
	}
}

// WithMaxTracked caps stored counts, trading count accuracy for space.
// Results report the cap through Result.Truncated.
func WithMaxTracked(max uint64) Option {
	return func(o *options) {
		o.keys.MaxTracked = max
	}
}

// WithPoolSize sets the maximum number of counters kept per field.
func WithPoolSize(n int) Option {
	return func(o *options) {
		o.poolSize = n
	}
}

// WithPoolMinEmpty sets the target minimum of empty counters per pool.
func WithPoolMinEmpty(n int) Option {
	return func(o *options) {
		o.poolMinEmpty = n
	}
}

// WithCleaningThreads sets the number of background janitor workers shared
// by all field pools. Zero clears counters inline during release.
func WithCleaningThreads(n int) Option {
	return func(o *options) {
		o.cleaningThreads = n
	}
}

// WithClearRate limits background clears per second across all pools.
func WithClearRate(perSecond float64) Option {
	return func(o *options) {
		o.clearRate = perSecond
	}
}

// WithLogger sets the structured logger. Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(metrics MetricsCollector) Option {
	return func(o *options) {
		if metrics == nil {
			metrics = NoopMetricsCollector{}
		}
		o.metrics = metrics
	}
}

// WithHeapExponent sets the mini-heap exponent of the top-K heap. The
// default of 4 gives 15-element mini-heaps sized to a cache line pair.
func WithHeapExponent(exponent int) Option {
	return func(o *options) {
		o.heapExponent = exponent
	}
}
