package mem

import (
	"github.com/watertoon/vkruntime/containers"
	"github.com/watertoon/vkruntime/internal/result"
)

// regionSize is the granularity VirtualAddressHeap packs small allocations
// into: allocations at or under this size are packed by a bitmap inside a
// shared region; larger allocations get their own region tracked
// individually in an ordered tree keyed by start address.
const regionSize = 64 * 1024

// vaRegion is one regionSize-byte span, either carved into small fixed-size
// slots tracked by a bitmap, or wholly owned by one large allocation.
type vaRegion struct {
	start    uintptr
	size     uintptr // total span; only tracked precisely for large regions
	slotSize uintptr // 0 for a large, single-allocation region
	used     []bool  // per-slot occupancy, nil for large regions
	large    bool
}

// VirtualAddressHeap packs many small allocations into shared 64 KiB
// regions to avoid one header per allocation, and tracks large allocations
// (> regionSize) each in their own region via an address-ordered tree for
// O(log n) FloorContaining lookups on Free.
type VirtualAddressHeap struct {
	arena   []byte
	regions *containers.OrderedTree[uintptr, *vaRegion]
	next    uintptr // next unused arena offset
}

// NewVirtualAddressHeap creates a VirtualAddressHeap over arena.
func NewVirtualAddressHeap(arena []byte) *VirtualAddressHeap {
	return &VirtualAddressHeap{
		arena:   arena,
		regions: containers.NewOrderedTree[uintptr, *vaRegion](),
	}
}

func (v *VirtualAddressHeap) largeThreshold() uintptr {
	return regionSize
}

// Allocate services size either from a packed small-allocation region (slot
// size rounded up to a power-of-two divisor of regionSize) or by carving a
// fresh dedicated region for large allocations.
func (v *VirtualAddressHeap) Allocate(size, alignment uintptr) (uintptr, result.Result) {
	if size == 0 {
		size = 1
	}
	if size > v.largeThreshold() {
		return v.allocateLarge(size)
	}
	return v.allocateSmall(size, alignment)
}

func (v *VirtualAddressHeap) allocateLarge(size uintptr) (uintptr, result.Result) {
	aligned := alignUp(size, regionSize)
	if v.next+aligned > uintptr(len(v.arena)) {
		return 0, result.MemOutOfMemory
	}
	start := v.next
	v.next += aligned
	v.regions.Insert(start, &vaRegion{start: start, size: aligned, large: true})
	return start, result.Success
}

func (v *VirtualAddressHeap) slotSizeFor(size uintptr) uintptr {
	s := uintptr(16)
	for s < size {
		s *= 2
	}
	return s
}

func (v *VirtualAddressHeap) allocateSmall(size, alignment uintptr) (uintptr, result.Result) {
	slotSize := v.slotSizeFor(size)
	if alignment > slotSize {
		slotSize = alignUp(slotSize, alignment)
	}

	var found *vaRegion
	v.regions.Walk(func(_ uintptr, r *vaRegion) bool {
		if !r.large && r.slotSize == slotSize {
			for _, u := range r.used {
				if !u {
					found = r
					return false
				}
			}
		}
		return true
	})

	if found == nil {
		if v.next+regionSize > uintptr(len(v.arena)) {
			return 0, result.MemOutOfMemory
		}
		start := v.next
		v.next += regionSize
		slotCount := regionSize / slotSize
		found = &vaRegion{start: start, size: regionSize, slotSize: slotSize, used: make([]bool, slotCount)}
		v.regions.Insert(start, found)
	}

	for i, u := range found.used {
		if !u {
			found.used[i] = true
			return found.start + uintptr(i)*found.slotSize, result.Success
		}
	}
	return 0, result.MemOutOfMemory
}

// Free releases addr, locating its owning region via FloorContaining.
func (v *VirtualAddressHeap) Free(addr uintptr) result.Result {
	_, r, ok := v.regions.FloorContaining(addr)
	if !ok || addr >= r.start+r.size {
		return result.MemInvalidAddress
	}
	if r.large {
		v.regions.Delete(r.start)
		return result.Success
	}
	slot := (addr - r.start) / r.slotSize
	if slot >= uintptr(len(r.used)) || !r.used[slot] {
		return result.MemDoubleFree
	}
	r.used[slot] = false
	return result.Success
}

// Contains reports whether addr falls within the backing arena.
func (v *VirtualAddressHeap) Contains(addr uintptr) bool {
	return addr < uintptr(len(v.arena))
}

// Arena exposes the backing array so CreateChildHeap can carve a child's
// storage directly out of it instead of allocating an independent one.
func (v *VirtualAddressHeap) Arena() []byte { return v.arena }
