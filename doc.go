// Package sparsecount provides a sparse faceting counter engine for
// full-text search servers.
//
// When a faceted query runs over a string field, every unique value in the
// field needs a counter, and fields routinely carry hundreds of millions of
// unique values. A naive machine-word per counter dominates both memory and
// per-request clearing time. sparsecount attacks both ends:
//
//   - Package nplane compresses the counter vector by exploiting long-tail
//     distributed per-counter maxima, splitting counters across bit-planes
//     so bits for rare large counts are stored only for the counters that
//     need them.
//   - Package sparse tracks which counters a request actually touched, so
//     iteration and clearing scale with the result size instead of the
//     field cardinality.
//   - Package pool recycles counter instances across requests, with a
//     background janitor absorbing the clearing cost and a content-token
//     cache serving the second phase of distributed faceting.
//   - Package bheap extracts the top-K counts through a cache-line-aware
//     heap of mini-heaps.
//
// The Engine in this package ties them together: register a field's maxima
// once per index generation, then count facets for any set of matching
// documents:
//
//	engine := sparsecount.New(
//	    sparsecount.WithCleaningThreads(1),
//	    sparsecount.WithPoolSize(2),
//	)
//	defer engine.Close()
//
//	engine.RegisterField("category", maxima, maxDoc, refCount)
//
//	result, err := engine.Count(ctx, sparsecount.Request{
//	    Field:    "category",
//	    Hits:     hits, // *roaring.Bitmap of matching documents
//	    Ordinals: ordinals,
//	    TopK:     10,
//	})
//
// Counters are single-owner while acquired; the engine performs no locking
// on the counting hot path. Serialization, query parsing and ordinal-to-term
// resolution stay with the host.
package sparsecount
