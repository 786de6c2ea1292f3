// Package nplane implements a compressed counter vector for slots with
// statically-known maxima.
//
// Each counter is split across bit-planes: plane 0 holds the least
// significant bits of every counter, while higher planes hold bits only for
// the few counters whose maximum actually needs them. With long-tail
// distributed maxima this stores hundreds of millions of counters in a
// fraction of the space of one machine word each, while keeping increment
// cost proportional to the number of planes touched.
//
// The structure is built once from a maxima vector and then filled, cleared
// and refilled; the overflow bitmaps and their rank caches depend only on
// the maxima and survive Clear.
package nplane

import (
	"github.com/hupe1980/sparsecount/packed"
)

// Mutable is the multi-plane counter vector. It implements packed.Mutable
// and packed.Incrementable.
//
// A Mutable is single-owner: no internal locking is performed. Increments
// must never push a counter past the maximum it was constructed with; an
// unchecked overflow silently wraps within the counter's bit budget.
type Mutable struct {
	planes []plane
	n      int
}

var (
	_ packed.Mutable       = (*Mutable)(nil)
	_ packed.Incrementable = (*Mutable)(nil)
)

// New creates a counter vector for the given maxima using default options.
func New(maxima packed.Reader) (*Mutable, error) {
	return NewWithOptions(maxima, Options{})
}

// NewWithOptions creates a counter vector for the given maxima.
func NewWithOptions(maxima packed.Reader, opts Options) (*Mutable, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	specs := planLayout(zeroHistogram(maxima), opts)
	planes := make([]plane, len(specs))
	for i, spec := range specs {
		planes[i] = newPlane(spec, opts.Variant)
	}
	m := &Mutable{planes: planes, n: maxima.Len()}
	m.populateOverflow(maxima)
	return m, nil
}

// populateOverflow walks the maxima once per plane, marking the counters
// that continue onto the next plane, then finalizes the rank structures.
// A counter participates in plane p if its maximum needs bits beyond plane
// p-1, and overflows if it also needs bits beyond plane p.
func (m *Mutable) populateOverflow(maxima packed.Reader) {
	for p := 0; p < len(m.planes)-1; p++ {
		pl := m.planes[p]
		position := 0
		for i := 0; i < maxima.Len(); i++ {
			if p > 0 && maxima.Get(i)>>uint(m.planes[p-1].topBit()) == 0 {
				continue
			}
			if maxima.Get(i)>>uint(pl.topBit()) != 0 {
				pl.setOverflow(position)
			}
			position++
		}
	}
	for _, pl := range m.planes {
		pl.finalizeOverflow()
	}
}

// Len returns the number of counters.
func (m *Mutable) Len() int { return m.n }

// BitsPerValue returns the total bit budget of the widest counter.
func (m *Mutable) BitsPerValue() int {
	if len(m.planes) == 0 {
		return 0
	}
	return m.planes[len(m.planes)-1].topBit()
}

// PlaneCount returns the number of planes in the layout.
func (m *Mutable) PlaneCount() int { return len(m.planes) }

// Get returns the counter value at index. It walks up the planes, following
// rank-translated positions, until the first plane whose overflow bit for
// this counter is unset.
func (m *Mutable) Get(index int) uint64 {
	var value uint64
	shift := uint(0)
	last := len(m.planes) - 1
	for p, pl := range m.planes {
		value |= pl.get(index) << shift
		if p == last || !pl.isOverflow(index) {
			break
		}
		shift += uint(pl.bitsPerValue())
		index = pl.overflowRank(index)
	}
	return value
}

// Set stores value at index. The walk continues past planes whose overflow
// bit is set even when the remaining value is zero, so stale high bits from
// a previous larger value are fully reset.
func (m *Mutable) Set(index int, value uint64) {
	last := len(m.planes) - 1
	for p, pl := range m.planes {
		pl.set(index, value&valueMask(pl.bitsPerValue()))
		if p == last || !pl.isOverflow(index) {
			break
		}
		value >>= uint(pl.bitsPerValue())
		index = pl.overflowRank(index)
	}
}

// Inc increments the counter at index by one. Each plane increment touches a
// single packed slot; the carry walks upward through rank translation, so the
// cost is bounded by the number of planes whose bits actually flip.
func (m *Mutable) Inc(index int) {
	last := len(m.planes) - 1
	for p, pl := range m.planes {
		if !pl.inc(index) || p == last {
			break
		}
		index = pl.overflowRank(index)
	}
}

// Clear zeroes all counters. Overflow bitmaps and rank caches depend only on
// the maxima and are left untouched (the shift variant walks its slots to
// preserve the interleaved bits).
func (m *Mutable) Clear() {
	for _, pl := range m.planes {
		pl.clear()
	}
}
