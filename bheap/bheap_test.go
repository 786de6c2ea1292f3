package bheap

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
)

func insertAll(h *Heap, elements ...int64) {
	for _, e := range elements {
		h.Insert(e)
	}
}

func popAll(t *testing.T, h *Heap) []int64 {
	t.Helper()
	var out []int64
	for {
		v, ok := h.Pop()
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

func assertSequence(t *testing.T, got, want []int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %v, want %v", i, got, want)
		}
	}
}

func TestHeap_Smoke(t *testing.T) {
	h, err := New(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	insertAll(h, 100, 99, 101)
	assertSequence(t, popAll(t, h), []int64{99, 100, 101})
}

func TestHeap_OverflowIntoSecondMiniHeap(t *testing.T) {
	h, err := New(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	insertAll(h, 100, 99, 101, 102)
	assertSequence(t, popAll(t, h), []int64{99, 100, 101, 102})
}

func TestHeap_Churn(t *testing.T) {
	h, err := New(5, 2)
	if err != nil {
		t.Fatal(err)
	}
	insertAll(h, 2, 4, 1, 3, 5)
	v, ok := h.Pop()
	if !ok || v != 1 {
		t.Fatalf("first pop: got %d, want 1", v)
	}
	h.Insert(6)
	assertSequence(t, popAll(t, h), []int64{2, 3, 4, 5, 6})
}

func TestHeap_RejectsAtCapacity(t *testing.T) {
	h, err := New(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	insertAll(h, 10, 20, 30)
	if got := h.Insert(5); got != 5 {
		t.Fatalf("value below top must be rejected, got %d", got)
	}
	if got := h.Insert(10); got != 10 {
		t.Fatalf("value equal to top must be rejected, got %d", got)
	}
	if got := h.Insert(15); got != 10 {
		t.Fatalf("displacing insert must return old top, got %d", got)
	}
	assertSequence(t, popAll(t, h), []int64{15, 20, 30})
}

func TestHeap_InsertReturnsSentinelWhileFilling(t *testing.T) {
	h, err := New(2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Insert(7); got != Sentinel {
		t.Fatalf("expected sentinel, got %d", got)
	}
}

func TestHeap_ZeroCapacity(t *testing.T) {
	h, err := New(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Insert(7); got != 7 {
		t.Fatalf("zero-capacity heap must reject, got %d", got)
	}
	if _, ok := h.Pop(); ok {
		t.Fatal("pop on empty heap must report empty")
	}
}

func TestHeap_Clear(t *testing.T) {
	h, err := New(10, 2)
	if err != nil {
		t.Fatal(err)
	}
	insertAll(h, 3, 1, 2)
	h.Clear()
	if !h.IsEmpty() {
		t.Fatal("expected empty after clear")
	}
	insertAll(h, 9, 8)
	assertSequence(t, popAll(t, h), []int64{8, 9})
}

func TestHeap_InvalidExponent(t *testing.T) {
	if _, err := New(10, 1); err == nil {
		t.Fatal("expected error for exponent 1")
	}
}

func TestHeap_RandomizedAgainstSort(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	for round := 0; round < 200; round++ {
		maxSize := 1 + rng.Intn(100)
		exponent := 2 + rng.Intn(4)
		h, err := New(maxSize, exponent)
		if err != nil {
			t.Fatal(err)
		}
		n := rng.Intn(300)
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(rng.Intn(1000))
			h.Insert(values[i])
		}
		sort.Slice(values, func(i, j int) bool { return values[i] > values[j] })
		keep := values
		if len(keep) > maxSize {
			keep = keep[:maxSize]
		}
		sort.Slice(keep, func(i, j int) bool { return keep[i] < keep[j] })

		got := popAll(t, h)
		if len(got) != len(keep) {
			t.Fatalf("round %d (max=%d exp=%d): kept %d, want %d",
				round, maxSize, exponent, len(got), len(keep))
		}
		for i := range keep {
			if got[i] != keep[i] {
				t.Fatalf("round %d (max=%d exp=%d): position %d got %d, want %d",
					round, maxSize, exponent, i, got[i], keep[i])
			}
		}
	}
}

func TestHeap_InterleavedPushPop(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	for round := 0; round < 50; round++ {
		maxSize := 1 + rng.Intn(50)
		h, err := New(maxSize, 2+rng.Intn(3))
		if err != nil {
			t.Fatal(err)
		}
		var model []int64
		for step := 0; step < 500; step++ {
			if rng.Intn(3) == 0 && len(model) > 0 {
				want := model[0]
				model = model[1:]
				got, ok := h.Pop()
				if !ok || got != want {
					t.Fatalf("round %d step %d: pop got %d, want %d", round, step, got, want)
				}
				continue
			}
			v := int64(rng.Intn(200))
			h.Insert(v)
			if len(model) < maxSize {
				model = append(model, v)
				sort.Slice(model, func(i, j int) bool { return model[i] < model[j] })
			} else if len(model) > 0 && v > model[0] {
				model[0] = v
				sort.Slice(model, func(i, j int) bool { return model[i] < model[j] })
			}
		}
	}
}

func BenchmarkHeap_InsertAtCapacity(b *testing.B) {
	for _, exponent := range []int{2, 4, 5} {
		b.Run(fmt.Sprintf("exp=%d", exponent), func(b *testing.B) {
			h, err := New(1000, exponent)
			if err != nil {
				b.Fatal(err)
			}
			rng := rand.New(rand.NewSource(1))
			values := make([]int64, 8192)
			for i := range values {
				values[i] = int64(rng.Intn(1 << 20))
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				h.Insert(values[i%len(values)])
			}
		})
	}
}

func TestPackUnpack(t *testing.T) {
	cases := []struct {
		count uint64
		ord   uint32
	}{
		{0, 0}, {1, 0}, {0, 1}, {12345, 678}, {1 << 30, 1<<32 - 1},
	}
	for _, c := range cases {
		count, ord := Unpack(Pack(c.count, c.ord))
		if count != c.count || ord != c.ord {
			t.Fatalf("round trip (%d, %d) -> (%d, %d)", c.count, c.ord, count, ord)
		}
	}
	// Higher count always wins; among equal counts the smaller ordinal packs
	// larger, so it survives top-K eviction.
	if Pack(2, 9) <= Pack(1, 0) {
		t.Fatal("higher count must compare greater")
	}
	if Pack(5, 3) <= Pack(5, 4) {
		t.Fatal("smaller ordinal must compare greater at equal count")
	}
	// Counts beyond 31 bits clamp instead of going negative.
	if Pack(1<<40, 0) < 0 {
		t.Fatal("packed value must stay positive")
	}
}
