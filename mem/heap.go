// Package mem implements the heap hierarchy: a tree of named, optionally
// thread-safe heaps with explicit-free semantics and a disposer protocol
// that lets registered objects be notified when their
// owning heap is torn down.
package mem

import (
	"sync"

	"github.com/watertoon/vkruntime/containers"
	"github.com/watertoon/vkruntime/internal/corelog"
	"github.com/watertoon/vkruntime/internal/result"
)

const logTag = "mem"

// Kind tags a heap's concrete allocation strategy, a flat alternative to
// a deep Heap -> ExpHeap -> GpuExpHeap virtual hierarchy.
type Kind int

const (
	KindExp Kind = iota
	KindGpuExp
	KindVirtualAddress
	KindSeparate
)

// Disposer is any object whose lifetime is tied to a heap. It registers
// itself (via Heap.AddDisposer) and is invoked exactly once, in
// registration order, when the owning heap is destroyed.
type Disposer interface {
	Dispose()
}

// Heap is a named node in the process-wide heap tree. Concrete allocation
// behavior lives in the embedded Allocator; Heap itself owns topology
// (parent/children), the disposer list, and the address range invariant
// every live allocation lies strictly inside its heap's range.
type Heap struct {
	Name  string
	Kind  Kind
	Start uintptr
	End   uintptr

	parent   *Heap
	children []*Heap

	threadSafe bool
	mu         sync.Mutex // per-heap lock, held only during alloc/free when threadSafe

	disposers containers.IntrusiveList[Disposer]

	manager *Manager

	Allocator Allocator
}

// Allocator is the capability a concrete heap kind provides to Heap.
type Allocator interface {
	Allocate(size, alignment uintptr) (uintptr, result.Result)
	Free(addr uintptr) result.Result
	Contains(addr uintptr) bool
}

// Manager is the process-wide heap-manager lock and root registry: the
// lock is a process-wide mutex held whenever the parent/child topology is
// mutated.
type Manager struct {
	mu    sync.Mutex
	roots []*Heap
}

// NewManager creates an empty heap manager.
func NewManager() *Manager {
	return &Manager{}
}

// RootOptions configures a root heap: name, kind, backing arena, and
// allocation mode.
type RootOptions struct {
	Name       string
	Kind       Kind
	Arena      []byte // backing storage for Exp/VirtualAddress roots
	ThreadSafe bool
	Mode       AllocationMode

	overrideAllocator Allocator
}

// CreateRootHeap builds a root heap over the given arena and registers it
// with the manager.
func (m *Manager) CreateRootHeap(opt RootOptions) (*Heap, result.Result) {
	if len(opt.Arena) == 0 {
		return nil, result.FrmFailedToAllocateRootHeap
	}
	h := &Heap{
		Name:       opt.Name,
		Kind:       opt.Kind,
		Start:      uintptr(0),
		End:        uintptr(len(opt.Arena)),
		threadSafe: opt.ThreadSafe,
		manager:    m,
	}
	switch opt.Kind {
	case KindExp, KindGpuExp:
		h.Allocator = NewExpHeap(opt.Arena, opt.Mode)
	case KindVirtualAddress:
		h.Allocator = NewVirtualAddressHeap(opt.Arena)
	case KindSeparate:
		h.Allocator = NewSeparateHeap(uintptr(len(opt.Arena)))
	default:
		h.Allocator = NewExpHeap(opt.Arena, opt.Mode)
	}

	m.mu.Lock()
	m.roots = append(m.roots, h)
	m.mu.Unlock()
	corelog.Debugf(logTag, "created root heap %q [%d,%d) kind=%d", h.Name, h.Start, h.End, h.Kind)
	return h, result.Success
}

// arenaBacked is implemented by allocators that hold their allocations in a
// single contiguous []byte, letting CreateChildHeap carve a child's storage
// directly out of the parent's own backing array instead of allocating an
// independent one.
type arenaBacked interface {
	Arena() []byte
}

// CreateChildHeap debits size bytes from parent's own allocator (reserving
// that span so parent cannot hand the same bytes to anyone else), then
// biases the child's [Start, End) range by that reservation's offset within
// the parent's range -- so sibling children and parent/child ranges are
// pairwise disjoint and every child range is contained in its parent's.
// When the parent's allocator exposes its backing array (arenaBacked), the
// child is additionally given a real sub-slice of that array as its own
// arena, so the nesting is physical as well as address-range-wise; when it
// doesn't (e.g. a SeparateHeap parent, which has no single backing buffer),
// the child still gets the disjoint, contained range, backed by its own
// freshly allocated arena.
func (m *Manager) CreateChildHeap(parent *Heap, name string, size uintptr, opt RootOptions) (*Heap, result.Result) {
	reservation, res := parent.Allocator.Allocate(size, 8)
	if res.IsFailure() {
		return nil, res
	}

	var arena []byte
	if holder, ok := parent.Allocator.(arenaBacked); ok {
		parentArena := holder.Arena()
		if reservation+size <= uintptr(len(parentArena)) {
			arena = parentArena[reservation : reservation+size : reservation+size]
		}
	}
	if arena == nil {
		arena = make([]byte, size)
	}

	child := &Heap{
		Name:       name,
		Kind:       opt.Kind,
		Start:      parent.Start + reservation,
		End:        parent.Start + reservation + size,
		parent:     parent,
		threadSafe: opt.ThreadSafe,
		manager:    m,
		Allocator:  opt.overrideAllocator,
	}
	if child.Allocator == nil {
		switch opt.Kind {
		case KindVirtualAddress:
			child.Allocator = NewVirtualAddressHeap(arena)
		default:
			child.Allocator = NewExpHeap(arena, opt.Mode)
		}
	}
	m.mu.Lock()
	parent.children = append(parent.children, child)
	m.mu.Unlock()
	return child, result.Success
}

// overrideAllocator lets callers hand a pre-built sub-heap Allocator (e.g. a
// GpuExpHeap rooted in a parent's mapped range) to CreateChildHeap.
func (o *RootOptions) withAllocator(a Allocator) RootOptions {
	o.overrideAllocator = a
	return *o
}

// Destroy tears h down under the manager lock: it first destroys every
// child (innermost first), then fires h's own disposers in registration
// order, then unlinks h from its parent (or from the manager's roots).
func (h *Heap) Destroy() {
	h.manager.mu.Lock()
	defer h.manager.mu.Unlock()
	h.destroyLocked()
}

func (h *Heap) destroyLocked() {
	for _, c := range append([]*Heap(nil), h.children...) {
		c.destroyLocked()
	}
	h.children = nil

	h.disposers.Walk(func(n *containers.ListNode[Disposer]) bool {
		d := n.Value()
		h.disposers.Remove(n)
		d.Dispose()
		return true
	})

	if h.parent != nil {
		for i, c := range h.parent.children {
			if c == h {
				h.parent.children = append(h.parent.children[:i], h.parent.children[i+1:]...)
				break
			}
		}
	} else if h.manager != nil {
		for i, r := range h.manager.roots {
			if r == h {
				h.manager.roots = append(h.manager.roots[:i], h.manager.roots[i+1:]...)
				break
			}
		}
	}
	corelog.Debugf(logTag, "destroyed heap %q", h.Name)
}

// AddDisposer registers d on h's disposer list. The returned node must be
// passed to RemoveDisposer for early (pre-destruction) unregistration.
func (h *Heap) AddDisposer(d Disposer) *containers.ListNode[Disposer] {
	n := containers.NewNode(d)
	h.disposers.PushBack(n)
	return n
}

// RemoveDisposer unregisters a disposer before heap destruction. Safe to
// call multiple times (disposer list removal is re-entrant).
func (h *Heap) RemoveDisposer(n *containers.ListNode[Disposer]) {
	h.disposers.Remove(n)
}

// Contains reports whether addr lies in [Start, End).
func (h *Heap) Contains(addr uintptr) bool {
	return addr >= h.Start && addr < h.End
}

// Allocate allocates size bytes aligned to alignment from h, taking h's own
// lock if it is thread-safe. The Allocator operates on arena-relative
// offsets; Allocate biases its result by h.Start so the address returned to
// the caller lies in h's own [Start, End) range.
func (h *Heap) Allocate(size, alignment uintptr) (uintptr, result.Result) {
	if h.threadSafe {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	addr, res := h.Allocator.Allocate(size, alignment)
	if res.IsFailure() {
		corelog.Errorf(logTag, "heap %q: allocate(%d,%d) failed: %v", h.Name, size, alignment, res)
		return addr, res
	}
	return addr + h.Start, result.Success
}

// Free releases addr back to h, translating it back to the Allocator's
// arena-relative offset.
func (h *Heap) Free(addr uintptr) result.Result {
	if !h.Contains(addr) {
		return result.MemInvalidAddress
	}
	if h.threadSafe {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	return h.Allocator.Free(addr - h.Start)
}
