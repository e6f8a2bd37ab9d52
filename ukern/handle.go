package ukern

import "github.com/watertoon/vkruntime/internal/result"

// Handle is a 32-bit identifier combining a slot index (low 15 bits) and a
// generation counter (remaining high bits). A non-zero handle uniquely
// identifies a fiber across its lifetime; a stale handle (wrong
// generation) is detectable and rejected.
type Handle uint32

const (
	slotBits = 15
	slotMask = (1 << slotBits) - 1

	// InvalidHandle is never issued by Alloc.
	InvalidHandle Handle = 0
)

func makeHandle(slot uint32, generation uint32) Handle {
	h := Handle((generation << slotBits) | (slot & slotMask))
	if h == InvalidHandle {
		// generation 0, slot 0 would collide with the sentinel; bump the
		// generation so slot 0's very first handle is still non-zero.
		h = Handle((1 << slotBits) | (slot & slotMask))
	}
	return h
}

func (h Handle) slot() uint32 { return uint32(h) & slotMask }

func (h Handle) generation() uint32 { return uint32(h) >> slotBits }

type handleEntry struct {
	generation uint32
	fiber      *Fiber
	occupied   bool
}

// handleTable is the fixed-capacity (default 256) table mapping handles to
// fiber records.
type handleTable struct {
	entries []handleEntry
	free    []uint32
}

const defaultHandleTableCapacity = 256

func newHandleTable(capacity uint32) *handleTable {
	if capacity == 0 {
		capacity = defaultHandleTableCapacity
	}
	t := &handleTable{entries: make([]handleEntry, capacity)}
	for i := capacity; i > 0; i-- {
		t.free = append(t.free, i-1)
	}
	return t
}

func (t *handleTable) alloc(f *Fiber) (Handle, result.Result) {
	if len(t.free) == 0 {
		return InvalidHandle, result.UKernHandleTableFull
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	e := &t.entries[slot]
	e.occupied = true
	e.fiber = f
	if slot == 0 && e.generation == 0 {
		// makeHandle issues generation 1 here; record it so lookup and
		// release accept the handle.
		e.generation = 1
	}
	h := makeHandle(slot, e.generation)
	return h, result.Success
}

// release recycles the handle's slot, bumping its generation so any
// previously issued handle referencing this slot is now stale.
func (t *handleTable) release(h Handle) {
	slot := h.slot()
	if slot >= uint32(len(t.entries)) {
		return
	}
	e := &t.entries[slot]
	if !e.occupied || e.generation != h.generation() {
		return
	}
	e.occupied = false
	e.fiber = nil
	e.generation++
	t.free = append(t.free, slot)
}

func (t *handleTable) lookup(h Handle) (*Fiber, result.Result) {
	slot := h.slot()
	if slot >= uint32(len(t.entries)) {
		return nil, result.UKernInvalidHandle
	}
	e := &t.entries[slot]
	if !e.occupied || e.generation != h.generation() {
		return nil, result.UKernInvalidHandle
	}
	return e.fiber, result.Success
}
