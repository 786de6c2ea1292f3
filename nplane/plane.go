package nplane

import (
	"github.com/hupe1980/sparsecount/bitset"
	"github.com/hupe1980/sparsecount/packed"
)

// plane is one horizontal bit-slice of the counter vector. Planes never
// reference each other; the owning NPlaneMutable routes between plane p and
// p+1 through overflowRank.
type plane interface {
	// get returns the bpv value bits stored at index.
	get(index int) uint64
	// set stores the low bpv bits of value at index.
	set(index int, value uint64)
	// inc increments the value at index, wrapping at the storage width.
	// Returns true if the increment carried into the next plane.
	inc(index int) bool

	// isOverflow reports whether the counter at index continues on the
	// next plane.
	isOverflow(index int) bool
	// setOverflow marks the counter at index as continuing on the next
	// plane. Only valid during construction, before finalizeOverflow.
	setOverflow(index int)
	// finalizeOverflow builds the rank acceleration structures. Called once
	// after all overflow bits are set.
	finalizeOverflow()
	// overflowRank returns the number of set overflow bits in [0, index),
	// i.e. the counter's position on the next plane.
	overflowRank(index int) int

	// clear zeroes the value bits, leaving overflow structures intact.
	clear()

	valueCount() int
	bitsPerValue() int
	// topBit is the cumulative max bit covered up to and including this
	// plane.
	topBit() int
	hasOverflow() bool
}

func newPlane(spec planeSpec, variant Variant) plane {
	switch variant {
	case SplitRank:
		return newSplitRankPlane(spec)
	case Shift:
		return newShiftPlane(spec)
	default:
		return newSplitPlane(spec)
	}
}

func mustVector(n, bpv int) *packed.Vector {
	v, err := packed.New(n, bpv)
	if err != nil {
		panic(err)
	}
	return v
}

// splitPlane keeps value bits and overflow bits in separate structures. Rank
// queries combine a bucketed running popcount with a local scan of at most
// bucketSize bits.
type splitPlane struct {
	spec      planeSpec
	values    *packed.Vector
	overflows *bitset.BitSet
	cache     *packed.Vector
	carryMask uint64
}

func newSplitPlane(spec planeSpec) *splitPlane {
	overflowLen := 0
	if spec.hasOverflow {
		overflowLen = spec.valueCount
	}
	return &splitPlane{
		spec:      spec,
		values:    mustVector(spec.valueCount, spec.bpv),
		overflows: bitset.New(overflowLen),
		cache:     mustVector(spec.valueCount/spec.bucketSize+1, packed.BitsRequired(uint64(spec.valueCount))),
		carryMask: valueMask(spec.bpv),
	}
}

func (p *splitPlane) get(index int) uint64 { return p.values.Get(index) }

func (p *splitPlane) set(index int, value uint64) { p.values.Set(index, value) }

func (p *splitPlane) inc(index int) bool {
	old := p.values.Get(index)
	p.values.Set(index, old+1)
	return old == p.carryMask
}

func (p *splitPlane) isOverflow(index int) bool { return p.overflows.Test(index) }

func (p *splitPlane) setOverflow(index int) { p.overflows.Set(index) }

func (p *splitPlane) finalizeOverflow() {
	if !p.spec.hasOverflow {
		return
	}
	buildBucketCache(p.cache, p.spec, p.overflows.Test)
}

func (p *splitPlane) overflowRank(index int) int {
	return bucketRank(p.cache, p.spec.bucketSize, index, p.overflows.Test)
}

func (p *splitPlane) clear() { p.values.Clear() }

func (p *splitPlane) valueCount() int   { return p.spec.valueCount }
func (p *splitPlane) bitsPerValue() int { return p.spec.bpv }
func (p *splitPlane) topBit() int       { return p.spec.top }
func (p *splitPlane) hasOverflow() bool { return p.spec.hasOverflow }

// splitRankPlane is a splitPlane with the bucketed cache replaced by a rank
// bitset, giving O(1) rank.
type splitRankPlane struct {
	spec      planeSpec
	values    *packed.Vector
	overflows *bitset.RankBitSet
	carryMask uint64
}

func newSplitRankPlane(spec planeSpec) *splitRankPlane {
	overflowLen := 0
	if spec.hasOverflow {
		overflowLen = spec.valueCount
	}
	return &splitRankPlane{
		spec:      spec,
		values:    mustVector(spec.valueCount, spec.bpv),
		overflows: bitset.NewRank(overflowLen),
		carryMask: valueMask(spec.bpv),
	}
}

func (p *splitRankPlane) get(index int) uint64 { return p.values.Get(index) }

func (p *splitRankPlane) set(index int, value uint64) { p.values.Set(index, value) }

func (p *splitRankPlane) inc(index int) bool {
	old := p.values.Get(index)
	p.values.Set(index, old+1)
	return old == p.carryMask
}

func (p *splitRankPlane) isOverflow(index int) bool { return p.overflows.Test(index) }

func (p *splitRankPlane) setOverflow(index int) { p.overflows.Set(index) }

func (p *splitRankPlane) finalizeOverflow() {
	if p.spec.hasOverflow {
		p.overflows.BuildRankCache()
	}
}

func (p *splitRankPlane) overflowRank(index int) int { return p.overflows.Rank(index) }

func (p *splitRankPlane) clear() { p.values.Clear() }

func (p *splitRankPlane) valueCount() int   { return p.spec.valueCount }
func (p *splitRankPlane) bitsPerValue() int { return p.spec.bpv }
func (p *splitRankPlane) topBit() int       { return p.spec.top }
func (p *splitRankPlane) hasOverflow() bool { return p.spec.hasOverflow }

// shiftPlane interleaves the overflow bit as the LSB of each packed slot.
// Better locality on the inc path, but clear has to walk every slot to
// preserve the overflow bits.
type shiftPlane struct {
	spec      planeSpec
	values    *packed.Vector
	cache     *packed.Vector
	valueMask uint64
}

func newShiftPlane(spec planeSpec) *shiftPlane {
	width := spec.bpv
	if spec.hasOverflow {
		width++
	}
	return &shiftPlane{
		spec:      spec,
		values:    mustVector(spec.valueCount, width),
		cache:     mustVector(spec.valueCount/spec.bucketSize+1, packed.BitsRequired(uint64(spec.valueCount))),
		valueMask: valueMask(spec.bpv),
	}
}

func (p *shiftPlane) get(index int) uint64 {
	if p.spec.hasOverflow {
		return p.values.Get(index) >> 1
	}
	return p.values.Get(index)
}

func (p *shiftPlane) set(index int, value uint64) {
	if p.spec.hasOverflow {
		p.values.Set(index, value<<1|p.values.Get(index)&1)
		return
	}
	p.values.Set(index, value)
}

func (p *shiftPlane) inc(index int) bool {
	if p.spec.hasOverflow {
		raw := p.values.Get(index)
		value := raw >> 1
		carry := value == p.valueMask
		p.values.Set(index, ((value+1)&p.valueMask)<<1|raw&1)
		return carry
	}
	old := p.values.Get(index)
	p.values.Set(index, old+1)
	return old == p.valueMask
}

func (p *shiftPlane) isOverflow(index int) bool { return p.values.Get(index)&1 == 1 }

// setOverflow nukes any value bits at index. Construction only.
func (p *shiftPlane) setOverflow(index int) { p.values.Set(index, 1) }

func (p *shiftPlane) finalizeOverflow() {
	if !p.spec.hasOverflow {
		return
	}
	buildBucketCache(p.cache, p.spec, p.isOverflow)
}

func (p *shiftPlane) overflowRank(index int) int {
	return bucketRank(p.cache, p.spec.bucketSize, index, p.isOverflow)
}

func (p *shiftPlane) clear() {
	if !p.spec.hasOverflow {
		p.values.Clear()
		return
	}
	for i := 0; i < p.spec.valueCount; i++ {
		p.values.Set(i, p.values.Get(i)&1)
	}
}

func (p *shiftPlane) valueCount() int   { return p.spec.valueCount }
func (p *shiftPlane) bitsPerValue() int { return p.spec.bpv }
func (p *shiftPlane) topBit() int       { return p.spec.top }
func (p *shiftPlane) hasOverflow() bool { return p.spec.hasOverflow }

func valueMask(bpv int) uint64 {
	if bpv >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(bpv) - 1
}

// buildBucketCache fills cache with the running popcount of the overflow bits
// at each bucket boundary: entry b holds the number of set bits in
// [0, (b+1)*bucketSize).
func buildBucketCache(cache *packed.Vector, spec planeSpec, isSet func(int) bool) {
	for i := 0; i < spec.valueCount; i++ {
		bucket := i / spec.bucketSize
		if bucket > 0 && i%spec.bucketSize == 0 {
			cache.Set(bucket, cache.Get(bucket-1))
		}
		if isSet(i) {
			cache.Set(bucket, cache.Get(bucket)+1)
		}
	}
}

// bucketRank resolves rank(index) from the bucket cache plus a local scan of
// at most bucketSize bits.
func bucketRank(cache *packed.Vector, bucketSize, index int, isSet func(int) bool) int {
	rank := 0
	start := 0
	if index >= bucketSize {
		rank = int(cache.Get(index/bucketSize - 1))
		start = index / bucketSize * bucketSize
	}
	for i := start; i < index; i++ {
		if isSet(i) {
			rank++
		}
	}
	return rank
}
