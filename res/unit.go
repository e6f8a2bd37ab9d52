package res

import (
	"hash/crc32"
	"sync"
	"sync/atomic"

	"github.com/watertoon/vkruntime/containers"
	"github.com/watertoon/vkruntime/internal/result"
	"github.com/watertoon/vkruntime/mem"
)

// UnitStatus is a ResourceUnit's lifecycle stage, one of seven steps from
// Init through Destroyed.
type UnitStatus int32

const (
	UnitInit UnitStatus = iota
	UnitLoading
	UnitReady
	UnitReferenced
	UnitEvictable
	UnitFailed
	UnitDestroyed
)

// HashPath computes the CRC32b path hash the resource unit tree is keyed
// on.
func HashPath(path string) uint32 {
	return crc32.ChecksumIEEE([]byte(path))
}

// ResourceUnit is one cached, path-keyed resource slot. It is reserved from
// a ResourceUnitAllocator, linked into a ResourceUnitManager's tree, loaded
// by a LoadTask, and eventually evicted or destroyed.
type ResourceUnit struct {
	manager *ResourceUnitManager

	pathHash uint32
	path     string
	status   int32 // atomic UnitStatus
	refs     int32

	heap     *mem.Heap
	data     []byte
	resource Resource

	loadErr  result.Result
	loadDone chan struct{} // closed once the load that created this unit finishes
	mu       sync.Mutex
}

func (u *ResourceUnit) reset() {
	u.manager = nil
	u.pathHash = 0
	u.path = ""
	atomic.StoreInt32(&u.status, int32(UnitInit))
	atomic.StoreInt32(&u.refs, 0)
	u.heap = nil
	u.data = nil
	u.resource = nil
	u.loadErr = result.Success
	u.loadDone = nil
}

// Status returns the unit's current lifecycle stage.
func (u *ResourceUnit) Status() UnitStatus { return UnitStatus(atomic.LoadInt32(&u.status)) }

func (u *ResourceUnit) setStatus(s UnitStatus) { atomic.StoreInt32(&u.status, int32(s)) }

// Path returns the path this unit was loaded from.
func (u *ResourceUnit) Path() string { return u.path }

// Resource returns the constructed resource, valid once Status is Ready
// or later.
func (u *ResourceUnit) Resource() Resource { return u.resource }

// LoadError returns the Result recorded by a failed load, or Success.
func (u *ResourceUnit) LoadError() result.Result { return u.loadErr }

// Reference increments the unit's refcount, promoting it out of the
// evictable free-cache list if it was sitting there.
func (u *ResourceUnit) Reference() {
	if atomic.AddInt32(&u.refs, 1) == 1 {
		u.setStatus(UnitReferenced)
		if u.manager != nil {
			u.manager.removeFromFreeCache(u)
		}
	}
}

// Release drops a reference. On the last release the unit becomes
// Evictable and is linked onto its manager's LRU free-cache list rather
// than destroyed immediately, so a future lookup can resurrect it at zero
// reload cost.
func (u *ResourceUnit) Release() {
	if atomic.AddInt32(&u.refs, -1) == 0 {
		u.setStatus(UnitEvictable)
		if u.manager != nil {
			u.manager.addToFreeCache(u)
		}
	}
}

// destroy finalizes the unit's heap, fires disposers, and returns it to
// the allocator.
func (u *ResourceUnit) destroy() {
	if u.heap != nil {
		u.heap.Destroy()
	}
	manager := u.manager
	alloc := manager.alloc
	u.reset()
	u.setStatus(UnitDestroyed)
	alloc.free(u)
	manager.metricUnits.WithLabelValues(manager.name, "tracked").Dec()
}

// ResourceUnitAllocator is the process-wide fixed-size ring buffer of units
// a fresh load is allocated from.
type ResourceUnitAllocator struct {
	mu       sync.Mutex
	freeList *containers.RingBuffer[*ResourceUnit]
}

// NewResourceUnitAllocator pre-allocates capacity reusable units.
func NewResourceUnitAllocator(capacity int) *ResourceUnitAllocator {
	a := &ResourceUnitAllocator{freeList: containers.NewRingBuffer[*ResourceUnit](capacity)}
	for i := 0; i < capacity; i++ {
		a.freeList.PushBack(&ResourceUnit{})
	}
	return a
}

// alloc pops a free unit, or fails if the allocator is exhausted.
func (a *ResourceUnitAllocator) alloc() (*ResourceUnit, result.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.freeList.PopFront()
	if !ok {
		return nil, result.ResFailedToAllocateFileMemory
	}
	u.setStatus(UnitInit)
	return u, result.Success
}

// free returns u to the pool.
func (a *ResourceUnitAllocator) free(u *ResourceUnit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeList.PushBack(u)
}
