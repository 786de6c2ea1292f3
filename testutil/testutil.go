// Package testutil provides deterministic random data for counter tests and
// benchmarks: long-tail maxima distributions and synthetic document-to-value
// reference corpora.
package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/sparsecount/packed"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// LongTailMaxima generates n per-value maxima following the distribution
// facet fields show in practice: most values are referenced a handful of
// times, a few are referenced heavily.
func (r *RNG) LongTailMaxima(n int, headMax uint64) packed.Slice {
	r.mu.Lock()
	defer r.mu.Unlock()
	maxima := make(packed.Slice, n)
	for i := range maxima {
		switch r.rand.Intn(20) {
		case 0:
			maxima[i] = 1 + r.rand.Uint64()%headMax
		case 1, 2, 3:
			maxima[i] = 1 + r.rand.Uint64()%64
		default:
			maxima[i] = 1 + r.rand.Uint64()%4
		}
	}
	return maxima
}

// Corpus is a synthetic set of documents referencing values of one field.
type Corpus struct {
	// Docs holds the value ordinals referenced by each document.
	Docs [][]uint32
	// Maxima holds, per ordinal, the total number of references to it, the
	// upper bound any counter can reach.
	Maxima packed.Slice
	// Refs is the total number of document-to-value references.
	Refs int64
}

// NewCorpus generates docCount documents, each referencing up to
// maxRefsPerDoc of uniqueValues values. Value popularity is skewed so counts
// follow a long tail.
func (r *RNG) NewCorpus(docCount, uniqueValues, maxRefsPerDoc int) *Corpus {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Corpus{
		Docs:   make([][]uint32, docCount),
		Maxima: make(packed.Slice, uniqueValues),
	}
	for doc := range c.Docs {
		refs := 1 + r.rand.Intn(maxRefsPerDoc)
		for i := 0; i < refs; i++ {
			// Squaring skews towards low ordinals.
			f := r.rand.Float64()
			ord := uint32(f * f * float64(uniqueValues))
			if int(ord) >= uniqueValues {
				ord = uint32(uniqueValues - 1)
			}
			c.Docs[doc] = append(c.Docs[doc], ord)
			c.Maxima[ord]++
			c.Refs++
		}
	}
	return c
}

// ExactCounts brute-forces the reference counts for a subset of documents.
func (c *Corpus) ExactCounts(docs []uint32) map[uint32]uint64 {
	counts := make(map[uint32]uint64)
	for _, doc := range docs {
		for _, ord := range c.Docs[doc] {
			counts[ord]++
		}
	}
	return counts
}
