// Package bheap implements a cache-line-aware bounded min-priority queue.
//
// The heap is an outer tree of fixed-size mini-heaps of 2^e - 1 elements
// each; with e=4 a mini-heap is 15 values and fits in one or two cache
// lines, so a sift touches far fewer lines than a flat binary heap of the
// same size. It is the terminal consumer of facet counting: counts stream
// in as packed (count, ordinal) values and the heap keeps the top maxSize.
package bheap

import (
	"fmt"
	"math"
)

// Sentinel is returned by Insert when the element was absorbed without
// displacing anything.
const Sentinel = int64(math.MaxInt64)

// Heap is a size-bounded min-heap of int64 values laid out as mini-heaps.
// Each mini-heap wastes one slot for 1-based addressing, as does the outer
// array for the root mini-heap.
type Heap struct {
	maxSize int
	exp     uint
	mhMax   int // elements per mini-heap: 2^exp - 1
	chCount int // child mini-heaps per mini-heap: 2^exp

	elements []int64
	mhIndex  int // write cursor: mini-heap of the next insertion
	mhOffset int // write cursor: offset within that mini-heap
	size     int
}

// New creates a heap holding at most maxSize elements, with mini-heaps of
// 2^exponent - 1 elements. The exponent must be at least 2.
func New(maxSize, exponent int) (*Heap, error) {
	if exponent < 2 {
		return nil, fmt.Errorf("bheap: mini-heap exponent must be at least 2, got %d", exponent)
	}
	if maxSize < 0 {
		return nil, fmt.Errorf("bheap: negative max size %d", maxSize)
	}
	mhMax := 1<<uint(exponent) - 1
	miniHeaps := maxSize / mhMax
	if maxSize%mhMax != 0 {
		miniHeaps++
	}
	return &Heap{
		maxSize:  maxSize,
		exp:      uint(exponent),
		mhMax:    mhMax,
		chCount:  1 << uint(exponent),
		elements: make([]int64, (miniHeaps+1)<<uint(exponent)),
		mhIndex:  1,
		mhOffset: 1,
	}, nil
}

// Size returns the number of stored elements.
func (h *Heap) Size() int { return h.size }

// Capacity returns the maximum number of stored elements.
func (h *Heap) Capacity() int { return h.maxSize }

// IsEmpty reports whether the heap holds no elements.
func (h *Heap) IsEmpty() bool { return h.size == 0 }

// Clear discards all elements.
func (h *Heap) Clear() {
	h.size = 0
	h.mhIndex = 1
	h.mhOffset = 1
}

// Top returns the smallest element. Calling Top on an empty heap is a
// programming error.
func (h *Heap) Top() int64 { return h.get(1, 1) }

// Insert offers an element. While the heap has room the element is stored
// and Sentinel is returned. At capacity, an element larger than the current
// minimum displaces it and the old minimum is returned; anything else is
// rejected and returned unchanged.
func (h *Heap) Insert(element int64) int64 {
	if h.size < h.maxSize {
		h.set(h.mhIndex, h.mhOffset, element)
		h.orderUp(h.mhIndex, h.mhOffset)
		h.mhOffset++
		if h.mhOffset > h.mhMax {
			h.mhIndex++
			h.mhOffset = 1
		}
		h.size++
		return Sentinel
	}
	if h.size > 0 && element > h.Top() {
		old := h.Top()
		h.set(1, 1, element)
		h.orderDown(1, 1)
		return old
	}
	return element
}

// Pop removes and returns the smallest element. The second return value is
// false if the heap is empty.
func (h *Heap) Pop() (int64, bool) {
	if h.size == 0 {
		return 0, false
	}
	// Dial the write cursor one back; it now points at the last element.
	h.mhOffset--
	if h.mhOffset == 0 {
		h.mhIndex--
		h.mhOffset = h.mhMax
	}
	h.size--
	least := h.get(1, 1)
	h.set(1, 1, h.get(h.mhIndex, h.mhOffset))
	h.orderDown(1, 1)
	return least, true
}

// activeMiniHeaps returns the index of the last mini-heap holding elements.
func (h *Heap) activeMiniHeaps() int {
	if h.mhOffset == 1 {
		return h.mhIndex - 1
	}
	return h.mhIndex
}

// miniLeftChild returns the index of the left child mini-heap hanging off
// the bottom-row element at (mi, off).
func (h *Heap) miniLeftChild(mi, off int) int {
	return mi*h.chCount - h.chCount + 2 + (off-1<<(h.exp-1))<<1
}

// miniParent returns the index of the parent mini-heap of mi.
func (h *Heap) miniParent(mi int) int {
	return (mi + h.chCount - 2) / h.chCount
}

// miniParentOffset returns the bottom-row offset within the parent
// mini-heap that mi hangs off.
func (h *Heap) miniParentOffset(mi int) int {
	return 1<<(h.exp-1) + (mi+h.chCount-2)&(h.chCount-1)>>1
}

// orderUp restores heap order after placing a new element at (mi, off),
// which must be at the insertion frontier of its mini-heap. Whenever the
// element reaches a mini-heap root it is compared with its parent
// mini-heap's designated bottom-row slot and promoted if smaller.
func (h *Heap) orderUp(mi, off int) {
	element := h.get(mi, off)
	for h.orderUpMini(mi, off) == 1 {
		parent := h.miniParent(mi)
		if parent == 0 {
			break
		}
		parentOff := h.miniParentOffset(mi)
		if h.get(parent, parentOff) < element {
			break
		}
		h.set(mi, 1, h.get(parent, parentOff))
		h.set(parent, parentOff, element)
		mi = parent
		off = parentOff
	}
}

// orderUpMini sifts the element at off up within mini-heap mi and returns
// the offset where it came to rest.
func (h *Heap) orderUpMini(mi, off int) int {
	element := h.get(mi, off)
	parent := off >> 1
	for parent > 0 && element < h.get(mi, parent) {
		h.set(mi, off, h.get(mi, parent))
		off = parent
		parent = off >> 1
	}
	h.set(mi, off, element)
	return off
}

// orderDown restores heap order after replacing the element at (mi, off).
// When the element settles on the bottom row of its mini-heap it is
// compared with the roots of the two child mini-heaps below and demoted
// into the smaller one if that root is smaller.
func (h *Heap) orderDown(mi, off int) {
	element := h.get(mi, off)
	bottomMask := h.mhMax >> 1
	for mi <= h.activeMiniHeaps() {
		off = h.orderDownMini(mi, off)
		if off&^bottomMask == 0 {
			break // settled above the bottom row
		}
		childA := h.miniLeftChild(mi, off)
		if childA > h.activeMiniHeaps() {
			break
		}
		if childB := childA + 1; childB <= h.activeMiniHeaps() && h.get(childB, 1) < h.get(childA, 1) {
			childA = childB
		}
		below := h.get(childA, 1)
		if element <= below {
			break
		}
		h.set(mi, off, below)
		h.set(childA, 1, element)
		mi = childA
		off = 1
	}
}

// orderDownMini sifts the element at off down within mini-heap mi, bounded
// by the number of elements actually present, and returns the offset where
// it came to rest.
func (h *Heap) orderDownMini(mi, off int) int {
	maxOffset := h.mhMax
	if mi == h.activeMiniHeaps() {
		maxOffset = h.size - (mi-1)*h.mhMax
	}
	element := h.get(mi, off)
	childA := off << 1
	if childB := childA + 1; childB <= maxOffset && h.get(mi, childB) < h.get(mi, childA) {
		childA = childB
	}
	for childA <= maxOffset && h.get(mi, childA) < element {
		h.set(mi, off, h.get(mi, childA))
		off = childA
		childA = off << 1
		if childB := childA + 1; childB <= maxOffset && h.get(mi, childB) < h.get(mi, childA) {
			childA = childB
		}
	}
	h.set(mi, off, element)
	return off
}

func (h *Heap) get(mi, off int) int64 { return h.elements[mi<<h.exp+off] }

func (h *Heap) set(mi, off int, element int64) { h.elements[mi<<h.exp+off] = element }

// Pack combines a count and an ordinal into one heap element. Counts above
// 2^31-1 are clamped so packed values stay positive; the ordinal is stored
// complemented, so among equal counts the larger ordinal sorts lower and
// extraction yields ascending ordinals per count.
func Pack(count uint64, ord uint32) int64 {
	if count > math.MaxInt32 {
		count = math.MaxInt32
	}
	return int64(count<<32 | uint64(^ord))
}

// Unpack splits a heap element produced by Pack.
func Unpack(element int64) (count uint64, ord uint32) {
	return uint64(element) >> 32, ^uint32(uint64(element) & 0xFFFFFFFF)
}
