package sparsecount

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/sparsecount/bheap"
	"github.com/hupe1980/sparsecount/packed"
	"github.com/hupe1980/sparsecount/pool"
	"github.com/hupe1980/sparsecount/sparse"
)

// cancelCheckInterval is how many documents are consumed between context
// checks during a fill.
const cancelCheckInterval = 1024

// OrdinalReader yields the term ordinals referenced by a document. Ordinals
// are dense uint32 keys into the field's value dictionary; the engine never
// interprets them beyond indexing counters.
//
// Readers whose iteration can fail mid-stream may additionally implement
// Err() error; the engine checks it after the fill and releases the counter
// as dirty on failure.
type OrdinalReader interface {
	Ordinals(doc uint32) iter.Seq[uint32]
}

// OrdinalSlice adapts in-memory per-document ordinal lists to OrdinalReader,
// indexed by document id. Mostly useful for tests and small indexes.
type OrdinalSlice [][]uint32

// Ordinals implements OrdinalReader.
func (s OrdinalSlice) Ordinals(doc uint32) iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		if int(doc) >= len(s) {
			return
		}
		for _, ord := range s[doc] {
			if !yield(ord) {
				return
			}
		}
	}
}

// TermCount is one facet term with its document count.
type TermCount struct {
	Ord   uint32
	Count uint64
}

// Request describes a facet count over one field.
type Request struct {
	// Field is the facet field, previously registered via RegisterField.
	Field string
	// Hits are the documents matching the query.
	Hits *roaring.Bitmap
	// Ordinals resolves each hit document to its term ordinals.
	Ordinals OrdinalReader
	// TopK is the number of terms to return.
	TopK int
	// MinCount drops terms below this count. Zero means 1.
	MinCount uint64
	// CacheToken, when set, tags the filled counter for re-acquisition by a
	// later request carrying the same token (distributed phase 2). If the
	// pool already holds a counter under this token, the fill is skipped.
	CacheToken string
}

// Result is the outcome of one facet count.
type Result struct {
	Field string
	// Terms are the top-K terms, ordered by descending count; equal counts
	// order by ascending ordinal.
	Terms []TermCount
	// Sparse reports whether extraction took the sparse path.
	Sparse bool
	// Truncated reports whether any count hit the configured cap and the
	// counts may therefore be lower than the true values.
	Truncated bool
	// CacheHit reports whether a cached filled counter was reused and the
	// fill skipped.
	CacheHit bool
}

// Engine coordinates counter pools, estimation, filling and top-K
// extraction. Construct one per index generation and Close it when the
// generation is replaced; pooled counters are bound to the registered
// maxima and must not outlive them.
type Engine struct {
	registry   *pool.Registry
	supervisor *pool.Supervisor
	keys       pool.Keys
	heapExp    int
	logger     *Logger
	metrics    MetricsCollector
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	o := options{
		keys:            pool.DefaultKeys(),
		poolSize:        2,
		poolMinEmpty:    1,
		cleaningThreads: 1,
		logger:          NoopLogger(),
		metrics:         NoopMetricsCollector{},
		heapExponent:    4,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var supOpts []pool.SupervisorOption
	if o.clearRate > 0 {
		supOpts = append(supOpts, pool.WithClearRate(o.clearRate))
	}
	supervisor := pool.NewSupervisor(o.cleaningThreads, supOpts...)

	return &Engine{
		registry: pool.NewRegistry(supervisor,
			pool.WithMaxPoolSize(o.poolSize),
			pool.WithMinEmpty(o.poolMinEmpty),
			pool.WithLogger(o.logger.Logger),
		),
		supervisor: supervisor,
		keys:       o.keys,
		heapExp:    o.heapExponent,
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

// RegisterField binds a field's maxima and index statistics to the engine.
// maxDoc is the index document count, refCount the total number of
// references from documents to values of this field. Call once per field
// per index generation, before the first Count on it.
func (e *Engine) RegisterField(field string, maxima packed.Reader, maxDoc int, refCount int64) {
	p := e.registry.Pool(field)
	p.SetFieldProperties(maxima, maxDoc, refCount)
	e.logger.LogRegisterField(context.Background(), field, p.UniqueValues(), p.MaxCountForAny())
}

// PoolStats returns counter pool statistics for a field.
func (e *Engine) PoolStats(field string) pool.Stats {
	return e.registry.Pool(field).Stats()
}

// Close tears the engine down, dropping all pooled counters and waiting for
// in-flight background clears.
func (e *Engine) Close() {
	e.registry.Close()
}

// Count runs one facet count: acquire a counter, fill it from the hits,
// extract the top-K terms and release the counter back to the pool.
func (e *Engine) Count(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	result, err := e.count(ctx, req)
	hits := 0
	if req.Hits != nil {
		hits = int(req.Hits.GetCardinality())
	}
	e.metrics.RecordCount(req.Field, hits, time.Since(start), err)
	terms := 0
	sparsePath := false
	if result != nil {
		terms = len(result.Terms)
		sparsePath = result.Sparse
	}
	e.logger.LogCount(ctx, req.Field, hits, terms, sparsePath, err)
	return result, err
}

func (e *Engine) count(ctx context.Context, req Request) (*Result, error) {
	if req.TopK <= 0 {
		return nil, ErrInvalidTopK
	}
	if req.Hits == nil {
		return nil, ErrNilHits
	}
	if req.Ordinals == nil {
		return nil, ErrNilOrdinals
	}

	p := e.registry.Pool(req.Field)
	keys := e.keys
	keys.CacheToken = req.CacheToken

	hitCount := int(req.Hits.GetCardinality())
	probablySparse := p.ProbablySparse(hitCount, keys)
	e.metrics.RecordSparse(req.Field, probablySparse)

	counter, err := p.Acquire(keys)
	if err != nil {
		if errors.Is(err, pool.ErrNotInitialized) {
			return nil, &ErrFieldNotRegistered{Field: req.Field, cause: err}
		}
		return nil, err
	}

	cacheHit := req.CacheToken != "" && counter.ContentKey() == req.CacheToken
	if cacheHit {
		e.logger.LogCacheHit(ctx, req.Field, req.CacheToken)
	} else if !probablySparse {
		// The tracker would overflow anyway; skip its bookkeeping. This is
		// per-request state on the counter, not part of the structure key,
		// so pooled counters stay interchangeable across requests.
		counter.DisableTracking()
	}
	if !cacheHit {
		if err := e.fill(ctx, counter, req); err != nil {
			// Partial fill: hand the counter back without a token so it is
			// cleaned before anyone reuses it.
			dirty := keys
			dirty.CacheToken = ""
			p.Release(counter, dirty)
			return nil, err
		}
	}

	extractStart := time.Now()
	terms, sparsePath, err := e.extract(counter, req)
	if err != nil {
		dirty := keys
		dirty.CacheToken = ""
		p.Release(counter, dirty)
		return nil, err
	}
	e.metrics.RecordExtract(req.Field, len(terms), time.Since(extractStart))

	result := &Result{
		Field:     req.Field,
		Terms:     terms,
		Sparse:    sparsePath,
		Truncated: counter.Truncated(),
		CacheHit:  cacheHit,
	}
	p.Release(counter, keys)
	return result, nil
}

// fill streams the hit documents' ordinals into the counter.
func (e *Engine) fill(ctx context.Context, counter *sparse.Counter, req Request) error {
	it := req.Hits.Iterator()
	docs := 0
	for it.HasNext() {
		if docs%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		docs++
		doc := it.Next()
		for ord := range req.Ordinals.Ordinals(doc) {
			counter.Inc(int(ord))
		}
	}
	if errer, ok := req.Ordinals.(interface{ Err() error }); ok {
		if err := errer.Err(); err != nil {
			return fmt.Errorf("ordinal reader: %w", err)
		}
	}
	return nil
}

// extract feeds the counter's non-zero counts into a bounded heap and
// returns the top-K terms in descending count order.
func (e *Engine) extract(counter *sparse.Counter, req Request) ([]TermCount, bool, error) {
	heap, err := bheap.New(req.TopK, e.heapExp)
	if err != nil {
		return nil, false, err
	}
	minCount := req.MinCount
	if minCount == 0 {
		minCount = 1
	}
	sparsePath := counter.Iterate(0, counter.Len(), minCount, func(index int, count uint64) {
		heap.Insert(bheap.Pack(count, uint32(index)))
	})

	terms := make([]TermCount, heap.Size())
	for i := heap.Size() - 1; i >= 0; i-- {
		element, ok := heap.Pop()
		if !ok {
			break
		}
		count, ord := bheap.Unpack(element)
		terms[i] = TermCount{Ord: ord, Count: count}
	}
	return terms, sparsePath, nil
}

// CountAll runs several facet counts concurrently, one per request. Each
// request acquires its own counter, so the single-writer discipline holds.
// The first error cancels the remaining work.
func (e *Engine) CountAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	results := make([]*Result, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			result, err := e.Count(ctx, req)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
