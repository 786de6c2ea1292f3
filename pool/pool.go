// Package pool maintains per-field pools of facet counters.
//
// Allocating a multi-megabyte counter structure per request is expensive,
// and so is clearing one. The pool amortizes both: released counters are
// recycled, and a background janitor cleans dirty counters so later requests
// find empty ones ready. Filled counters can additionally be cached under a
// content token for the second phase of distributed faceting.
package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/sparsecount/nplane"
	"github.com/hupe1980/sparsecount/packed"
	"github.com/hupe1980/sparsecount/sparse"
)

// ErrNotInitialized is returned by Acquire before SetFieldProperties was
// called on the pool.
var ErrNotInitialized = errors.New("pool: field properties not initialized")

// dirtyToken marks a released counter whose contents are stale and must be
// cleared before reuse. It can never collide with a caller token.
const dirtyToken = "\x00needs-cleaning"

// Keys carries the per-request faceting parameters. The zero value is not
// usable; start from DefaultKeys.
type Keys struct {
	// Sparse enables sparse tracking.
	Sparse bool
	// MinTags disables sparse tracking for fields with fewer unique values.
	MinTags int
	// Fraction sizes the sparse tracker relative to the unique value count.
	Fraction float64
	// CutOff scales the estimator threshold; below it sparse iteration is
	// expected to win.
	CutOff float64
	// Packed prefers the n-plane structure over a plain packed vector when
	// the maximum count fits PackedLimit bits.
	Packed bool
	// PackedLimit is the maximum bit-width for choosing the n-plane
	// structure.
	PackedLimit int
	// MaxTracked, when non-zero, caps stored counts, trading accuracy for
	// space. Counters report the cap through Truncated.
	MaxTracked uint64
	// CacheToken, when non-empty, tags the filled counter on release so an
	// identical later request re-acquires it with its contents intact.
	CacheToken string
	// Planes overrides the n-plane layout options.
	Planes nplane.Options
}

// DefaultKeys returns the default faceting parameters.
func DefaultKeys() Keys {
	return Keys{
		Sparse:      true,
		MinTags:     10000,
		Fraction:    0.08,
		CutOff:      0.90,
		Packed:      true,
		PackedLimit: 24,
	}
}

// Stats is a snapshot of pool activity.
type Stats struct {
	EmptyReuses      int64
	CacheHits        int64
	CacheMisses      int64
	PackedAllocs     int64
	PlainAllocs      int64
	InlineClears     int64
	BackgroundClears int64
	FilledFrees      int64
	EmptyFrees       int64
	WithinCutoff     int64
	ExceededCutoff   int64
}

type stats struct {
	emptyReuses      atomic.Int64
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	packedAllocs     atomic.Int64
	plainAllocs      atomic.Int64
	inlineClears     atomic.Int64
	backgroundClears atomic.Int64
	filledFrees      atomic.Int64
	emptyFrees       atomic.Int64
	withinCutoff     atomic.Int64
	exceededCutoff   atomic.Int64
}

// Pool recycles counter instances for one field of one index generation.
//
// The pool holds a mix of empty counters (ready for any request) and filled
// or dirty ones. All shared state is guarded by a single mutex with short
// critical sections; the expensive Clear always runs outside the lock, on a
// counter that has been removed from the pool and is therefore invisible to
// concurrent Acquire calls.
type Pool struct {
	field      string
	supervisor *Supervisor
	logger     *slog.Logger

	maxPoolSize int
	minEmpty    int

	mu           sync.Mutex
	counters     []*sparse.Counter
	structureKey uint64

	activeClears atomic.Int32

	// Field properties, set once per index generation.
	maxima         packed.Reader
	uniqueValues   int
	maxCountForAny uint64
	maxDoc         int
	refCount       int64
	initialized    bool

	stats stats
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxPoolSize caps the number of counters kept for reuse. Zero disables
// reuse entirely.
func WithMaxPoolSize(n int) Option {
	return func(p *Pool) { p.maxPoolSize = n }
}

// WithMinEmpty sets the target minimum of empty counters kept ready. Only
// relevant when filled counters compete for pool slots.
func WithMinEmpty(n int) Option {
	return func(p *Pool) { p.minEmpty = n }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// New creates a pool for the given field, sharing the supervisor with the
// other pools of the index generation. SetFieldProperties must be called
// before the first Acquire.
func New(supervisor *Supervisor, field string, opts ...Option) *Pool {
	p := &Pool{
		field:       field,
		supervisor:  supervisor,
		logger:      slog.New(slog.DiscardHandler),
		maxPoolSize: 2,
		minEmpty:    1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetFieldProperties binds the pool to the field's maxima and statistics.
// maxDoc is the document count of the index, refCount the total number of
// references from documents to values in the field. Call once per index
// generation, before the first Acquire.
func (p *Pool) SetFieldProperties(maxima packed.Reader, maxDoc int, refCount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		p.logger.Warn("field properties already set", "field", p.field)
	}
	var maxCount uint64
	for i := 0; i < maxima.Len(); i++ {
		if v := maxima.Get(i); v > maxCount {
			maxCount = v
		}
	}
	p.maxima = maxima
	p.uniqueValues = maxima.Len()
	p.maxCountForAny = maxCount
	p.maxDoc = maxDoc
	p.refCount = refCount
	p.initialized = true
}

// Initialized reports whether SetFieldProperties has been called.
func (p *Pool) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// Field returns the field this pool serves.
func (p *Pool) Field() string { return p.field }

// UniqueValues returns the number of unique values in the field.
func (p *Pool) UniqueValues() int { return p.uniqueValues }

// MaxCountForAny returns the highest count any single value can reach.
func (p *Pool) MaxCountForAny() uint64 { return p.maxCountForAny }

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	return Stats{
		EmptyReuses:      p.stats.emptyReuses.Load(),
		CacheHits:        p.stats.cacheHits.Load(),
		CacheMisses:      p.stats.cacheMisses.Load(),
		PackedAllocs:     p.stats.packedAllocs.Load(),
		PlainAllocs:      p.stats.plainAllocs.Load(),
		InlineClears:     p.stats.inlineClears.Load(),
		BackgroundClears: p.stats.backgroundClears.Load(),
		FilledFrees:      p.stats.filledFrees.Load(),
		EmptyFrees:       p.stats.emptyFrees.Load(),
		WithinCutoff:     p.stats.withinCutoff.Load(),
		ExceededCutoff:   p.stats.exceededCutoff.Load(),
	}
}

// ProbablySparse estimates whether a request with hitCount matching
// documents stays within the sparse tracker, and records the outcome.
func (p *Pool) ProbablySparse(hitCount int, keys Keys) bool {
	if !p.Initialized() {
		return false
	}
	probably := sparse.ProbablySparse(
		hitCount, p.maxDoc, p.refCount, p.uniqueValues, keys.Fraction, keys.CutOff, keys.MinTags)
	if probably {
		p.stats.withinCutoff.Add(1)
	} else {
		p.stats.exceededCutoff.Add(1)
	}
	return probably
}

// usePacked decides the counter variant: the n-plane structure when the
// caller prefers it and the maximum count fits the bit limit, or when the
// count range outgrows a plain vector's practical width.
func (p *Pool) usePacked(keys Keys, maxCount uint64) bool {
	return (keys.Packed && packed.BitsRequired(maxCount) <= keys.PackedLimit) ||
		maxCount > math.MaxInt32
}

// structureKeyFor fingerprints everything that determines whether two
// counter instances are interchangeable.
func (p *Pool) structureKeyFor(keys Keys, maxCount uint64, usePacked bool) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(p.field)
	var buf [8]byte
	packedBit := uint64(0)
	if usePacked {
		packedBit = 1
	}
	for _, v := range []uint64{
		uint64(p.uniqueValues),
		maxCount,
		uint64(keys.MinTags),
		math.Float64bits(keys.Fraction),
		keys.MaxTracked,
		packedBit,
	} {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Acquire returns a counter ready for updates. Preference order: a filled
// counter cached under the request's token, an empty counter, a dirty
// counter (cleared inline), any filled counter (cleared inline). When the
// pool is empty a new counter is allocated outside the lock.
//
// If the effective structure key differs from the pool's current key (the
// index generation or the request parameters changed), all pooled counters
// are dropped first.
func (p *Pool) Acquire(keys Keys) (*sparse.Counter, error) {
	if !p.Initialized() {
		return nil, fmt.Errorf("%w: field %q", ErrNotInitialized, p.field)
	}
	maxCount := p.maxCountForAny
	if maxCount == 0 && keys.Packed {
		// Empty facet; keep the packed layout well-formed.
		maxCount = 1
	}
	usePacked := p.usePacked(keys, maxCount)
	wantedKey := p.structureKeyFor(keys, maxCount, usePacked)

	p.mu.Lock()
	if wantedKey != p.structureKey && len(p.counters) > 0 {
		p.logger.Info("structure key changed, dropping pooled counters",
			"field", p.field, "dropped", len(p.counters))
		p.counters = p.counters[:0]
	}
	p.structureKey = wantedKey
	candidate := p.takeLocked(keys.CacheToken)
	p.mu.Unlock()

	if candidate == nil {
		return p.newCounter(keys, maxCount, usePacked, wantedKey)
	}

	switch content := candidate.ContentKey(); {
	case content == "":
		p.stats.emptyReuses.Add(1)
		if keys.CacheToken != "" {
			p.stats.cacheMisses.Add(1)
		}
	case keys.CacheToken != "" && content == keys.CacheToken:
		p.stats.cacheHits.Add(1)
		p.logger.Debug("content cache hit", "field", p.field, "token", keys.CacheToken)
	default:
		// Dirty, or filled under some other token.
		if keys.CacheToken != "" {
			p.stats.cacheMisses.Add(1)
		}
		p.stats.inlineClears.Add(1)
		candidate.Clear()
	}
	return candidate, nil
}

// takeLocked removes and returns the best candidate, or nil. Preference:
// a filled counter cached under the request's token, an empty counter, a
// dirty counter, any filled counter. Counters inserted earlier win ties, so
// reuse is oldest-first.
func (p *Pool) takeLocked(token string) *sparse.Counter {
	best, bestRank := -1, -1
	for i, c := range p.counters {
		content := c.ContentKey()
		var rank int
		switch {
		case token != "" && content == token:
			rank = 3
		case content == "":
			rank = 2
		case content == dirtyToken:
			rank = 1
		default:
			rank = 0
		}
		if rank > bestRank {
			best, bestRank = i, rank
			if rank == 3 {
				break // nothing beats a content match
			}
		}
	}
	if best == -1 {
		return nil
	}
	c := p.counters[best]
	p.counters = append(p.counters[:best], p.counters[best+1:]...)
	return c
}

// newCounter allocates a counter matching the wanted structure.
func (p *Pool) newCounter(keys Keys, maxCount uint64, usePacked bool, structureKey uint64) (*sparse.Counter, error) {
	fraction := keys.Fraction
	if !keys.Sparse || p.uniqueValues < keys.MinTags {
		fraction = 0
	}
	effectiveMax := maxCount
	if keys.MaxTracked != 0 && keys.MaxTracked < effectiveMax {
		effectiveMax = keys.MaxTracked
	}

	var values packed.Mutable
	if usePacked {
		maxima := p.maxima
		if keys.MaxTracked != 0 {
			maxima = cappedReader{r: maxima, cap: keys.MaxTracked}
		}
		m, err := nplane.NewWithOptions(maxima, keys.Planes)
		if err != nil {
			return nil, err
		}
		values = m
		p.stats.packedAllocs.Add(1)
	} else {
		v, err := packed.New(p.uniqueValues, packed.BitsRequired(effectiveMax))
		if err != nil {
			return nil, err
		}
		values = packed.IncrementableVector{Vector: v}
		p.stats.plainAllocs.Add(1)
	}
	p.logger.Debug("allocated counter",
		"field", p.field, "packed", usePacked, "values", p.uniqueValues)
	return sparse.NewCounter(values, fraction, keys.MaxTracked, structureKey)
}

// Release hands a used counter back. Returns immediately; any cleaning
// happens in the janitor (or inline when the supervisor has no workers).
//
// A counter whose structure key no longer matches the pool's is discarded.
// Otherwise it is tagged: with the request's cache token, making it a cached
// filled counter, or as dirty. A counter re-acquired through a token match
// has served its purpose and is always demoted to dirty.
func (p *Pool) Release(counter *sparse.Counter, keys Keys) {
	if counter == nil {
		return
	}
	p.mu.Lock()
	if counter.StructureKey() != p.structureKey {
		p.mu.Unlock()
		p.stats.filledFrees.Add(1)
		return
	}
	if counter.ContentKey() != "" {
		counter.SetContentKey(dirtyToken)
	} else if keys.CacheToken != "" {
		counter.SetContentKey(keys.CacheToken)
	} else {
		counter.SetContentKey(dirtyToken)
	}
	p.counters = append(p.counters, counter)
	p.mu.Unlock()

	p.supervisor.Submit(p.janitor)
}

// Clear drops all pooled counters, e.g. when the index generation closes.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters = p.counters[:0]
}

// Len returns the number of pooled counters.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.counters)
}

// cappedReader caps every maximum at a fixed bound, shrinking the planned
// layout when counts are deliberately truncated.
type cappedReader struct {
	r   packed.Reader
	cap uint64
}

func (c cappedReader) Len() int { return c.r.Len() }

func (c cappedReader) Get(i int) uint64 {
	if v := c.r.Get(i); v < c.cap {
		return v
	}
	return c.cap
}
