// Package sparse implements counters that track which slots were touched.
//
// A Counter wraps a mutable integer vector (a plain packed vector or an
// nplane structure) and keeps a bounded list of updated indices. As long as
// the number of distinct touched indices stays under the tracker capacity,
// iteration and clearing cost scale with the touches instead of with the
// vector length.
package sparse

import (
	"fmt"

	"github.com/hupe1980/sparsecount/packed"
)

// Counter is a read-through/write-through sparse wrapper over a mutable
// integer vector. It is single-owner while acquired from a pool: no internal
// locking.
type Counter struct {
	values packed.Mutable
	inc    packed.Incrementable // nil when values has no native increment

	tracker  []int
	exceeded bool

	maxTracked uint64 // 0 = unlimited
	truncated  bool

	structureKey uint64
	contentKey   string
}

// NewCounter wraps values in a sparse tracker. The tracker capacity is
// fraction of the vector length, rounded down; fraction 0 disables sparse
// tracking entirely. maxTracked, when non-zero, caps every count at that
// value (see Truncated). The structure key fingerprints the construction
// parameters so a pool can tell interchangeable counters apart.
func NewCounter(values packed.Mutable, fraction float64, maxTracked uint64, structureKey uint64) (*Counter, error) {
	if fraction < 0 || fraction > 1 {
		return nil, fmt.Errorf("sparse: fraction must be in [0,1], got %f", fraction)
	}
	c := &Counter{
		values:       values,
		tracker:      make([]int, 0, int(fraction*float64(values.Len()))),
		maxTracked:   maxTracked,
		structureKey: structureKey,
	}
	if inc, ok := values.(packed.Incrementable); ok {
		c.inc = inc
	}
	return c, nil
}

// Len returns the number of slots.
func (c *Counter) Len() int { return c.values.Len() }

// Get returns the count at index i.
func (c *Counter) Get(i int) uint64 { return c.values.Get(i) }

// Inc increments the count at index i by one.
//
// While the tracker has room, the first touch of an index records it; once
// the number of distinct touched indices exceeds the tracker capacity the
// counter switches to exceeded mode and indices are no longer recorded.
func (c *Counter) Inc(i int) {
	if c.exceeded {
		if c.maxTracked == 0 && c.inc != nil {
			c.inc.Inc(i)
			return
		}
		old := c.values.Get(i)
		if c.capped(old) {
			return
		}
		c.values.Set(i, old+1)
		return
	}
	old := c.values.Get(i)
	if c.capped(old) {
		return
	}
	c.values.Set(i, old+1)
	if old == 0 {
		if len(c.tracker) == cap(c.tracker) {
			c.exceeded = true
			return
		}
		c.tracker = append(c.tracker, i)
	}
}

func (c *Counter) capped(current uint64) bool {
	if c.maxTracked != 0 && current >= c.maxTracked {
		c.truncated = true
		return true
	}
	return false
}

// Exceeded reports whether the tracker capacity was exhausted, i.e. whether
// iteration and clear fall back to full scans.
func (c *Counter) Exceeded() bool { return c.exceeded }

// DisableTracking switches the counter to exceeded mode until the next
// Clear. Hosts call it when an estimate says the tracker would overflow
// anyway, skipping its bookkeeping for the request. Counts are unaffected.
func (c *Counter) DisableTracking() { c.exceeded = true }

// Truncated reports whether any count was capped at the configured maximum,
// meaning reported counts may be lower than the true counts.
func (c *Counter) Truncated() bool { return c.truncated }

// Iterate invokes cb for every index in [from, to) whose count is at least
// minCount. Returns true if the sparse path was taken (only touched indices
// visited), false if the full range was scanned.
func (c *Counter) Iterate(from, to int, minCount uint64, cb func(index int, count uint64)) bool {
	if !c.exceeded {
		for _, i := range c.tracker {
			if i < from || i >= to {
				continue
			}
			if count := c.values.Get(i); count >= minCount {
				cb(i, count)
			}
		}
		return true
	}
	for i := from; i < to; i++ {
		if count := c.values.Get(i); count >= minCount {
			cb(i, count)
		}
	}
	return false
}

// Clear resets all counts and the tracker. While sparse, only the touched
// slots are zeroed, so clearing cost follows the number of touches.
func (c *Counter) Clear() {
	if !c.exceeded {
		for _, i := range c.tracker {
			c.values.Set(i, 0)
		}
	} else {
		c.values.Clear()
	}
	c.tracker = c.tracker[:0]
	c.exceeded = false
	c.truncated = false
	c.contentKey = ""
}

// StructureKey returns the fingerprint of the construction parameters.
func (c *Counter) StructureKey() uint64 { return c.structureKey }

// ContentKey returns the token marking this counter's filled contents, or
// the empty string for an unfilled counter.
func (c *Counter) ContentKey() string { return c.contentKey }

// SetContentKey tags the filled counter so an identical later request can
// re-acquire it from the pool without refilling.
func (c *Counter) SetContentKey(key string) { c.contentKey = key }
