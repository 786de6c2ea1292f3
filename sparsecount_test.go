package sparsecount_test

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sparsecount "github.com/hupe1980/sparsecount"
	"github.com/hupe1980/sparsecount/packed"
)

// buildField derives maxima and reference count from per-document ordinal
// lists, the way an index would at segment-open time.
func buildField(docs sparsecount.OrdinalSlice, uniqueValues int) (packed.Slice, int64) {
	maxima := make(packed.Slice, uniqueValues)
	var refs int64
	for _, ords := range docs {
		for _, ord := range ords {
			maxima[ord]++
			refs++
		}
	}
	return maxima, refs
}

func allDocs(n int) *roaring.Bitmap {
	hits := roaring.New()
	hits.AddRange(0, uint64(n))
	return hits
}

func TestEngine_CountTopK(t *testing.T) {
	docs := sparsecount.OrdinalSlice{
		{0, 2}, {2}, {2, 5}, {5}, {2}, {7},
	}
	maxima, refs := buildField(docs, 10)
	engine := sparsecount.New(
		sparsecount.WithCleaningThreads(0),
		sparsecount.WithMinTags(1),
		sparsecount.WithFraction(0.5),
	)
	defer engine.Close()
	// The index is larger than the hit set, so the estimator predicts a
	// sparse fill.
	engine.RegisterField("category", maxima, 1000, refs)

	result, err := engine.Count(context.Background(), sparsecount.Request{
		Field:    "category",
		Hits:     allDocs(len(docs)),
		Ordinals: docs,
		TopK:     3,
	})
	require.NoError(t, err)

	// ord 2 appears in 4 docs, ord 5 in 2, ords 0 and 7 once each; the tie
	// at count 1 resolves to the lower ordinal.
	want := []sparsecount.TermCount{
		{Ord: 2, Count: 4},
		{Ord: 5, Count: 2},
		{Ord: 0, Count: 1},
	}
	assert.Equal(t, want, result.Terms)
	assert.True(t, result.Sparse)
	assert.False(t, result.Truncated)
	assert.False(t, result.CacheHit)
}

func TestEngine_SubsetOfHits(t *testing.T) {
	docs := sparsecount.OrdinalSlice{
		{1}, {1, 2}, {2}, {1},
	}
	maxima, refs := buildField(docs, 5)
	engine := sparsecount.New(sparsecount.WithMinTags(1))
	defer engine.Close()
	engine.RegisterField("tags", maxima, len(docs), refs)

	hits := roaring.BitmapOf(1, 2)
	result, err := engine.Count(context.Background(), sparsecount.Request{
		Field:    "tags",
		Hits:     hits,
		Ordinals: docs,
		TopK:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, []sparsecount.TermCount{
		{Ord: 2, Count: 2},
		{Ord: 1, Count: 1},
	}, result.Terms)
}

func TestEngine_MinCount(t *testing.T) {
	docs := sparsecount.OrdinalSlice{
		{0}, {0}, {1},
	}
	maxima, refs := buildField(docs, 3)
	engine := sparsecount.New(sparsecount.WithMinTags(1))
	defer engine.Close()
	engine.RegisterField("f", maxima, len(docs), refs)

	result, err := engine.Count(context.Background(), sparsecount.Request{
		Field:    "f",
		Hits:     allDocs(len(docs)),
		Ordinals: docs,
		TopK:     10,
		MinCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []sparsecount.TermCount{{Ord: 0, Count: 2}}, result.Terms)
}

// mustNotRead fails the test if the engine consults the ordinal reader; used
// to prove a cached counter skips the fill.
type mustNotRead struct{ t *testing.T }

func (m mustNotRead) Ordinals(uint32) iter.Seq[uint32] {
	m.t.Error("ordinal reader consulted despite cache hit")
	return func(func(uint32) bool) {}
}

func TestEngine_CacheTokenSkipsRefill(t *testing.T) {
	docs := sparsecount.OrdinalSlice{
		{3}, {3}, {4},
	}
	maxima, refs := buildField(docs, 6)
	engine := sparsecount.New(
		sparsecount.WithCleaningThreads(0),
		sparsecount.WithMinTags(1),
	)
	defer engine.Close()
	engine.RegisterField("f", maxima, len(docs), refs)

	first, err := engine.Count(context.Background(), sparsecount.Request{
		Field:      "f",
		Hits:       allDocs(len(docs)),
		Ordinals:   docs,
		TopK:       5,
		CacheToken: "query-17",
	})
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	second, err := engine.Count(context.Background(), sparsecount.Request{
		Field:      "f",
		Hits:       allDocs(len(docs)),
		Ordinals:   mustNotRead{t},
		TopK:       5,
		CacheToken: "query-17",
	})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Terms, second.Terms)
}

// flakyOrdinals reports an I/O failure after iteration, scanner-style.
type flakyOrdinals struct {
	inner sparsecount.OrdinalSlice
	err   error
}

func (f *flakyOrdinals) Ordinals(doc uint32) iter.Seq[uint32] { return f.inner.Ordinals(doc) }

func (f *flakyOrdinals) Err() error { return f.err }

func TestEngine_ReaderErrorReleasesDirty(t *testing.T) {
	docs := sparsecount.OrdinalSlice{{0}, {1}}
	maxima, refs := buildField(docs, 3)
	engine := sparsecount.New(
		sparsecount.WithCleaningThreads(0),
		sparsecount.WithMinTags(1),
	)
	defer engine.Close()
	engine.RegisterField("f", maxima, len(docs), refs)

	ioErr := errors.New("segment read failed")
	_, err := engine.Count(context.Background(), sparsecount.Request{
		Field:    "f",
		Hits:     allDocs(len(docs)),
		Ordinals: &flakyOrdinals{inner: docs, err: ioErr},
		TopK:     5,
	})
	require.ErrorIs(t, err, ioErr)

	// The partially filled counter must have been cleaned before reuse.
	result, err := engine.Count(context.Background(), sparsecount.Request{
		Field:    "f",
		Hits:     roaring.BitmapOf(1),
		Ordinals: docs,
		TopK:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, []sparsecount.TermCount{{Ord: 1, Count: 1}}, result.Terms)
}

func TestEngine_ContextCancellation(t *testing.T) {
	docs := make(sparsecount.OrdinalSlice, 5000)
	for i := range docs {
		docs[i] = []uint32{uint32(i % 50)}
	}
	maxima, refs := buildField(docs, 50)
	engine := sparsecount.New(sparsecount.WithMinTags(1))
	defer engine.Close()
	engine.RegisterField("f", maxima, len(docs), refs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Count(ctx, sparsecount.Request{
		Field:    "f",
		Hits:     allDocs(len(docs)),
		Ordinals: docs,
		TopK:     5,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_UnregisteredField(t *testing.T) {
	engine := sparsecount.New()
	defer engine.Close()

	_, err := engine.Count(context.Background(), sparsecount.Request{
		Field:    "ghost",
		Hits:     roaring.BitmapOf(1),
		Ordinals: sparsecount.OrdinalSlice{},
		TopK:     5,
	})
	var notRegistered *sparsecount.ErrFieldNotRegistered
	require.ErrorAs(t, err, &notRegistered)
	assert.Equal(t, "ghost", notRegistered.Field)
}

func TestEngine_RequestValidation(t *testing.T) {
	engine := sparsecount.New()
	defer engine.Close()
	ctx := context.Background()

	_, err := engine.Count(ctx, sparsecount.Request{Field: "f", Hits: roaring.New(), Ordinals: sparsecount.OrdinalSlice{}})
	assert.ErrorIs(t, err, sparsecount.ErrInvalidTopK)

	_, err = engine.Count(ctx, sparsecount.Request{Field: "f", Ordinals: sparsecount.OrdinalSlice{}, TopK: 1})
	assert.ErrorIs(t, err, sparsecount.ErrNilHits)

	_, err = engine.Count(ctx, sparsecount.Request{Field: "f", Hits: roaring.New(), TopK: 1})
	assert.ErrorIs(t, err, sparsecount.ErrNilOrdinals)
}

func TestEngine_TruncatedCounts(t *testing.T) {
	docs := make(sparsecount.OrdinalSlice, 10)
	for i := range docs {
		docs[i] = []uint32{0}
	}
	maxima, refs := buildField(docs, 4)
	engine := sparsecount.New(
		sparsecount.WithMinTags(1),
		sparsecount.WithMaxTracked(3),
	)
	defer engine.Close()
	engine.RegisterField("f", maxima, len(docs), refs)

	result, err := engine.Count(context.Background(), sparsecount.Request{
		Field:    "f",
		Hits:     allDocs(len(docs)),
		Ordinals: docs,
		TopK:     5,
	})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, []sparsecount.TermCount{{Ord: 0, Count: 3}}, result.Terms)
}

func TestEngine_CountAll(t *testing.T) {
	categoryDocs := sparsecount.OrdinalSlice{{0}, {0}, {1}}
	authorDocs := sparsecount.OrdinalSlice{{2}, {2}, {2}}
	catMaxima, catRefs := buildField(categoryDocs, 3)
	authMaxima, authRefs := buildField(authorDocs, 3)

	engine := sparsecount.New(sparsecount.WithMinTags(1))
	defer engine.Close()
	engine.RegisterField("category", catMaxima, 3, catRefs)
	engine.RegisterField("author", authMaxima, 3, authRefs)

	results, err := engine.CountAll(context.Background(), []sparsecount.Request{
		{Field: "category", Hits: allDocs(3), Ordinals: categoryDocs, TopK: 2},
		{Field: "author", Hits: allDocs(3), Ordinals: authorDocs, TopK: 2},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "category", results[0].Field)
	assert.Equal(t, []sparsecount.TermCount{{Ord: 0, Count: 2}, {Ord: 1, Count: 1}}, results[0].Terms)
	assert.Equal(t, []sparsecount.TermCount{{Ord: 2, Count: 3}}, results[1].Terms)
}

func TestEngine_MetricsCollector(t *testing.T) {
	docs := sparsecount.OrdinalSlice{{0}, {1}}
	maxima, refs := buildField(docs, 2)
	metrics := &sparsecount.BasicMetricsCollector{}
	engine := sparsecount.New(
		sparsecount.WithMinTags(1),
		sparsecount.WithMetricsCollector(metrics),
	)
	defer engine.Close()
	engine.RegisterField("f", maxima, len(docs), refs)

	_, err := engine.Count(context.Background(), sparsecount.Request{
		Field:    "f",
		Hits:     allDocs(len(docs)),
		Ordinals: docs,
		TopK:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.CountCalls.Load())
	assert.Equal(t, int64(1), metrics.ExtractCalls.Load())
	assert.Equal(t, int64(2), metrics.ExtractTerms.Load())
}

func TestEngine_NonSparseFallback(t *testing.T) {
	// Every document references most ordinals: the estimator must predict
	// tracker overflow and the count must still be exact.
	docs := make(sparsecount.OrdinalSlice, 200)
	for i := range docs {
		for ord := 0; ord < 100; ord++ {
			docs[i] = append(docs[i], uint32(ord))
		}
	}
	maxima, refs := buildField(docs, 100)
	engine := sparsecount.New(sparsecount.WithMinTags(1))
	defer engine.Close()
	engine.RegisterField("f", maxima, len(docs), refs)

	result, err := engine.Count(context.Background(), sparsecount.Request{
		Field:    "f",
		Hits:     allDocs(len(docs)),
		Ordinals: docs,
		TopK:     3,
	})
	require.NoError(t, err)
	assert.False(t, result.Sparse)
	assert.Equal(t, []sparsecount.TermCount{
		{Ord: 0, Count: 200},
		{Ord: 1, Count: 200},
		{Ord: 2, Count: 200},
	}, result.Terms)
}
