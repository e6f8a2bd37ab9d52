package mem

import (
	"context"
	"sync"

	"github.com/watertoon/vkruntime/ukern"
)

// The original runtime's thread-local "current heap" slot is replaced here
// by an explicit scope. Two flavors are provided for
// different call sites: a context.Context value for call chains that
// already thread a ctx, and a per-fiber table (keyed by the UKern fiber
// standing in for "thread") for call sites that don't.

type currentHeapKey struct{}

// WithCurrentHeap returns a context carrying h as the current allocation
// heap for everything downstream of ctx.
func WithCurrentHeap(ctx context.Context, h *Heap) context.Context {
	return context.WithValue(ctx, currentHeapKey{}, h)
}

// CurrentHeapFrom extracts the heap set by the nearest enclosing
// WithCurrentHeap, or nil if none is set.
func CurrentHeapFrom(ctx context.Context) *Heap {
	h, _ := ctx.Value(currentHeapKey{}).(*Heap)
	return h
}

var (
	currentHeapMu    sync.Mutex
	currentHeapTable = map[*ukern.Fiber]*Heap{}
)

// SetCurrentThreadHeap installs h as f's current heap, replacing the
// original's per-thread TLS slot with an explicit per-fiber table entry.
func SetCurrentThreadHeap(f *ukern.Fiber, h *Heap) {
	currentHeapMu.Lock()
	defer currentHeapMu.Unlock()
	if h == nil {
		delete(currentHeapTable, f)
		return
	}
	currentHeapTable[f] = h
}

// CurrentThreadHeap returns f's current heap, or nil if none was set.
func CurrentThreadHeap(f *ukern.Fiber) *Heap {
	currentHeapMu.Lock()
	defer currentHeapMu.Unlock()
	return currentHeapTable[f]
}

// ScopedCurrentThreadHeap saves/restores f's current heap across a scope,
// an RAII-scope equivalent in place of raw TLS get/set pairs scattered at
// every call site.
type ScopedCurrentThreadHeap struct {
	fiber    *ukern.Fiber
	previous *Heap
}

// NewScopedCurrentThreadHeap installs h as f's current heap and remembers
// whatever was previously installed. Callers must defer Close.
func NewScopedCurrentThreadHeap(f *ukern.Fiber, h *Heap) *ScopedCurrentThreadHeap {
	prev := CurrentThreadHeap(f)
	SetCurrentThreadHeap(f, h)
	return &ScopedCurrentThreadHeap{fiber: f, previous: prev}
}

// Close restores the heap that was current before this scope began.
func (s *ScopedCurrentThreadHeap) Close() {
	SetCurrentThreadHeap(s.fiber, s.previous)
}
