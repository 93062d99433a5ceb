package queue

import (
	"math/rand"
	"sort"
	"testing"
)

func TestMinQueueOrdering(t *testing.T) {
	q := NewMin(8)
	for _, d := range []float32{5, 1, 3, 2, 4} {
		q.PushItem(Item{ID: uint32(d), Distance: d})
	}

	prev := float32(-1)
	for q.Len() > 0 {
		it := q.PopItem()
		if it.Distance < prev {
			t.Fatalf("min queue popped out of order: %f after %f", it.Distance, prev)
		}
		prev = it.Distance
	}
}

func TestMaxQueueTop(t *testing.T) {
	q := NewMax(8)
	q.PushItem(Item{ID: 1, Distance: 2})
	q.PushItem(Item{ID: 2, Distance: 9})
	q.PushItem(Item{ID: 3, Distance: 5})

	top, ok := q.Top()
	if !ok || top.Distance != 9 {
		t.Fatalf("max queue top = %+v, want distance 9", top)
	}
}

func TestPushBounded(t *testing.T) {
	const bound = 3

	q := NewMax(bound)
	for _, d := range []float32{9, 4, 7, 1, 8, 2, 6} {
		q.PushBounded(Item{ID: uint32(d), Distance: d}, bound)
	}

	if q.Len() != bound {
		t.Fatalf("queue length = %d, want %d", q.Len(), bound)
	}

	items := q.Drain()
	want := []float32{1, 2, 4}
	for i, it := range items {
		if it.Distance != want[i] {
			t.Errorf("drained[%d] = %f, want %f", i, it.Distance, want[i])
		}
	}
}

func TestTieBreakByID(t *testing.T) {
	q := NewMax(4)
	q.PushBounded(Item{ID: 7, Distance: 1}, 2)
	q.PushBounded(Item{ID: 3, Distance: 1}, 2)
	q.PushBounded(Item{ID: 5, Distance: 1}, 2)

	items := q.Drain()
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	// Equal distances keep the lowest IDs and surface them first.
	if items[0].ID != 3 || items[1].ID != 5 {
		t.Errorf("tie-break order = [%d %d], want [3 5]", items[0].ID, items[1].ID)
	}
}

func TestDrainSortedRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	q := NewMax(64)
	for i := 0; i < 200; i++ {
		q.PushBounded(Item{ID: uint32(i), Distance: rng.Float32()}, 64)
	}

	items := q.Drain()
	if len(items) != 64 {
		t.Fatalf("got %d items, want 64", len(items))
	}
	if !sort.SliceIsSorted(items, func(i, j int) bool {
		return before(items[i], items[j])
	}) {
		t.Error("drained items not sorted ascending")
	}
}

func TestReset(t *testing.T) {
	q := NewMin(4)
	q.PushItem(Item{ID: 1, Distance: 1})
	q.Reset()

	if q.Len() != 0 {
		t.Errorf("length after reset = %d, want 0", q.Len())
	}
	if _, ok := q.Top(); ok {
		t.Error("Top should report empty after reset")
	}
}
