package nplane

import (
	"fmt"

	"github.com/hupe1980/sparsecount/packed"
)

// Variant selects the plane representation.
type Variant int

const (
	// Split stores value bits and overflow bits separately, with a bucketed
	// popcount cache for rank. The default.
	Split Variant = iota
	// SplitRank replaces the bucketed cache with a rank bitset, trading
	// ~12% extra space for O(1) rank.
	SplitRank
	// Shift interleaves the overflow bit into the packed slot as the LSB,
	// improving locality at the cost of a slower clear.
	Shift
)

func (v Variant) String() string {
	switch v {
	case Split:
		return "split"
	case SplitRank:
		return "split-rank"
	case Shift:
		return "shift"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Defaults for Options. The collapse fraction packs the remaining bits into a
// single plane once fewer than 1% of the counters are still participating.
const (
	DefaultOverflowBucketSize = 1000
	DefaultMaxPlanes          = 64
	DefaultCollapseFraction   = 0.01
)

// Options control the plane layout and representation.
// The zero value selects the defaults.
type Options struct {
	// OverflowBucketSize is the bucket width of the popcount cache used by
	// the Split and Shift variants.
	OverflowBucketSize int
	// MaxPlanes caps the number of planes. Must be at least 2.
	MaxPlanes int
	// CollapseFraction folds the remaining bits into one final plane when
	// the fraction of still-participating counters drops to or below it.
	CollapseFraction float64
	// Variant selects the plane representation.
	Variant Variant
}

func (o *Options) applyDefaults() error {
	if o.OverflowBucketSize == 0 {
		o.OverflowBucketSize = DefaultOverflowBucketSize
	}
	if o.MaxPlanes == 0 {
		o.MaxPlanes = DefaultMaxPlanes
	}
	if o.CollapseFraction == 0 {
		o.CollapseFraction = DefaultCollapseFraction
	}
	if o.OverflowBucketSize < 1 {
		return fmt.Errorf("nplane: overflow bucket size must be positive, got %d", o.OverflowBucketSize)
	}
	if o.MaxPlanes <= 1 {
		return fmt.Errorf("nplane: at least 2 planes are required, got max %d", o.MaxPlanes)
	}
	if o.CollapseFraction < 0 || o.CollapseFraction > 1 {
		return fmt.Errorf("nplane: collapse fraction must be in [0,1], got %f", o.CollapseFraction)
	}
	if o.Variant < Split || o.Variant > Shift {
		return fmt.Errorf("nplane: unknown variant %d", int(o.Variant))
	}
	return nil
}

// planeSpec describes one plane before instantiation.
type planeSpec struct {
	valueCount  int
	bpv         int
	top         int // cumulative max bit covered up to and including this plane
	hasOverflow bool
	bucketSize  int
}

// zeroHistogram builds the zero-extended cumulative bit histogram of the
// maxima: entry k (k >= 1) counts the values whose maximum requires at least
// k bits, entry 0 holds the total value count.
func zeroHistogram(maxima packed.Reader) []uint64 {
	hist := make([]uint64, 65)
	for i := 0; i < maxima.Len(); i++ {
		required := packed.BitsRequired(maxima.Get(i))
		for bit := 1; bit <= required; bit++ {
			hist[bit]++
		}
	}
	hist[0] = uint64(maxima.Len())
	return hist
}

// maxBit returns the highest entry with a non-zero count.
func maxBit(hist []uint64) int {
	top := 0
	for bit := 1; bit < len(hist); bit++ {
		if hist[bit] != 0 {
			top = bit
		}
	}
	return top
}

// planLayout turns a zero histogram into an ordered list of plane specs.
//
// Starting at bit 1, each plane grows to cover the next bit as long as that
// bit is still used by at least half of the plane's counters: sharing the
// overflow bit is then cheaper than opening a new plane. The layout collapses
// the remainder into a single final plane when the participating fraction
// drops to CollapseFraction, or when the plane budget is nearly spent.
func planLayout(hist []uint64, opts Options) []planeSpec {
	top := maxBit(hist)
	var specs []planeSpec
	bit := 1
	for bit <= top {
		extra := 0
		if float64(hist[bit])/float64(hist[0]) <= opts.CollapseFraction ||
			len(specs) == opts.MaxPlanes-1 {
			extra = top - bit
		} else {
			for next := 1; next < top-bit; next++ {
				if hist[bit+next]*2 < hist[bit] {
					break
				}
				extra++
			}
		}
		planeTop := bit + extra
		specs = append(specs, planeSpec{
			valueCount:  int(hist[bit]),
			bpv:         1 + extra,
			top:         planeTop,
			hasOverflow: planeTop < top,
			bucketSize:  opts.OverflowBucketSize,
		})
		bit += 1 + extra
	}
	return specs
}

// EstimateBytes returns the approximate memory footprint of the value and
// overflow structures for the layout that would be planned from the given
// direct histogram, where histogram[k] counts the values whose maximum
// requires exactly k+1 bits. Hosts use this to compare variants before
// committing to a counter structure.
func EstimateBytes(histogram []uint64, opts Options) (int64, error) {
	if err := opts.applyDefaults(); err != nil {
		return 0, err
	}
	zero := make([]uint64, 65)
	for k, count := range histogram {
		for bit := 1; bit <= k+1 && bit < 65; bit++ {
			zero[bit] += count
		}
		zero[0] += count
	}
	var total int64
	for _, spec := range planLayout(zero, opts) {
		bits := int64(spec.valueCount) * int64(spec.bpv)
		if opts.Variant == Shift && spec.hasOverflow {
			bits += int64(spec.valueCount)
		}
		total += (bits + 63) / 64 * 8
		if spec.hasOverflow {
			switch opts.Variant {
			case Split:
				total += int64(spec.valueCount+7) / 8 // overflow bits
				cacheEntries := int64(spec.valueCount/spec.bucketSize + 1)
				total += (cacheEntries*int64(packed.BitsRequired(uint64(spec.valueCount))) + 63) / 64 * 8
			case SplitRank:
				total += int64(spec.valueCount+7) / 8               // overflow bits
				total += int64((spec.valueCount+2047)/2048) * 4     // superblock cache
				total += int64((spec.valueCount+63)/64) * 2         // block cache
			}
		}
	}
	return total, nil
}
