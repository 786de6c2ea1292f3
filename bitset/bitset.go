// Package bitset provides fixed-size bitsets for single-owner counter
// structures, including a rank-enabled variant with O(1) popcount prefixes.
//
// Unlike concurrent bitsets, these are plain word arrays: a counter instance
// has exactly one owner while acquired, so no atomics are needed.
package bitset

import "math/bits"

// BitSet is a fixed-size set of bits.
type BitSet struct {
	words []uint64
	n     int
}

// New creates a BitSet of n bits, all zero.
func New(n int) *BitSet {
	return &BitSet{
		words: make([]uint64, (n+63)/64),
		n:     n,
	}
}

// Len returns the number of bits.
func (b *BitSet) Len() int { return b.n }

// Set sets the bit at index i.
func (b *BitSet) Set(i int) {
	b.words[i>>6] |= 1 << (uint(i) & 63)
}

// Test returns true if the bit at index i is set.
func (b *BitSet) Test(i int) bool {
	return b.words[i>>6]&(1<<(uint(i)&63)) != 0
}

// Count returns the number of set bits.
func (b *BitSet) Count() int {
	count := 0
	for _, w := range b.words {
		count += bits.OnesCount64(w)
	}
	return count
}

// ClearAll zeroes every bit.
func (b *BitSet) ClearAll() {
	clear(b.words)
}
