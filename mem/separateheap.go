package mem

import (
	"github.com/watertoon/vkruntime/containers"
	"github.com/watertoon/vkruntime/internal/result"
)

// SeparateHeap hands every allocation its own independently sized backing
// buffer rather than carving from a shared arena -- the "separate heap"
// variant used for allocations too large or too short-lived to justify
// free-list bookkeeping. Outstanding allocations are
// tracked in an address-ordered tree purely for Contains/Free lookups.
type SeparateHeap struct {
	live  *containers.OrderedTree[uintptr, []byte]
	next  uintptr
	limit uintptr
}

// NewSeparateHeap creates a SeparateHeap with an address space of limit
// bytes worth of bookkeeping room (no real arena is pre-allocated: each
// Allocate call mallocs its own buffer).
func NewSeparateHeap(limit uintptr) *SeparateHeap {
	return &SeparateHeap{
		live:  containers.NewOrderedTree[uintptr, []byte](),
		limit: limit,
	}
}

// Allocate mallocs a fresh size-byte buffer and assigns it the next address
// in sequence.
func (s *SeparateHeap) Allocate(size, alignment uintptr) (uintptr, result.Result) {
	if size == 0 {
		size = 1
	}
	addr := alignUp(s.next, alignment)
	if s.limit != 0 && addr+size > s.limit {
		return 0, result.MemOutOfMemory
	}
	s.live.Insert(addr, make([]byte, size))
	s.next = addr + size
	return addr, result.Success
}

// Free releases the buffer at addr.
func (s *SeparateHeap) Free(addr uintptr) result.Result {
	if _, ok := s.live.Find(addr); !ok {
		return result.MemInvalidAddress
	}
	s.live.Delete(addr)
	return result.Success
}

// Contains reports whether addr names a currently live allocation.
func (s *SeparateHeap) Contains(addr uintptr) bool {
	_, ok := s.live.Find(addr)
	return ok
}
