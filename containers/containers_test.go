package containers

import "testing"

func TestIntrusiveListFIFO(t *testing.T) {
	var l IntrusiveList[int]
	a, b, c := NewNode(1), NewNode(2), NewNode(3)
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)
	if l.Len() != 3 {
		t.Fatalf("expected len 3, got %d", l.Len())
	}
	var got []int
	l.Walk(func(n *ListNode[int]) bool {
		got = append(got, n.Value())
		return true
	})
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v want %v", got, want)
		}
	}
}

func TestIntrusiveListRemoveIsReentrant(t *testing.T) {
	var l IntrusiveList[int]
	a := NewNode(1)
	l.PushBack(a)
	l.Remove(a)
	l.Remove(a) // must not panic or double-decrement
	if l.Len() != 0 {
		t.Fatalf("expected len 0, got %d", l.Len())
	}
}

func TestOrderedTreeFloorContaining(t *testing.T) {
	var tr OrderedTree[uintptr, string]
	tr.Insert(0x1000, "a")
	tr.Insert(0x2000, "b")
	tr.Insert(0x3000, "c")

	k, v, ok := tr.FloorContaining(0x2500)
	if !ok || k != 0x2000 || v != "b" {
		t.Fatalf("expected floor (0x2000,b), got (%x,%s,%v)", k, v, ok)
	}

	_, _, ok = tr.FloorContaining(0x500)
	if ok {
		t.Fatalf("expected no floor below all keys")
	}
}

func TestOrderedTreeDeleteAndWalkOrder(t *testing.T) {
	var tr OrderedTree[int, int]
	for _, k := range []int{5, 3, 8, 1, 4, 7, 9} {
		tr.Insert(k, k*10)
	}
	tr.Delete(3)
	var seen []int
	tr.Walk(func(k, v int) bool {
		seen = append(seen, k)
		return true
	})
	want := []int{1, 4, 5, 7, 8, 9}
	if len(seen) != len(want) {
		t.Fatalf("got %v want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v want %v", seen, want)
		}
	}
}

func TestRingBufferFIFOAndCapacity(t *testing.T) {
	r := NewRingBuffer[int](2)
	if !r.PushBack(1) || !r.PushBack(2) {
		t.Fatalf("expected both pushes to succeed")
	}
	if r.PushBack(3) {
		t.Fatalf("expected push to fail when full")
	}
	v, ok := r.PopFront()
	if !ok || v != 1 {
		t.Fatalf("expected 1, got %d %v", v, ok)
	}
	if !r.PushBack(3) {
		t.Fatalf("expected push to succeed after pop frees a slot")
	}
}

func TestIndexAllocatorRecyclesFreedIndex(t *testing.T) {
	a := NewIndexAllocator(2)
	i0, ok := a.Alloc()
	if !ok || i0 != 0 {
		t.Fatalf("expected index 0")
	}
	i1, ok := a.Alloc()
	if !ok || i1 != 1 {
		t.Fatalf("expected index 1")
	}
	if _, ok := a.Alloc(); ok {
		t.Fatalf("expected exhaustion")
	}
	a.Free(i0)
	i2, ok := a.Alloc()
	if !ok || i2 != i0 {
		t.Fatalf("expected recycled index %d, got %d", i0, i2)
	}
}
