package mem

import "github.com/watertoon/vkruntime/internal/result"

// GpuMemoryProvider is the capability a real graphics backend would
// implement to back a GpuExpHeap with device memory. Device/driver
// integration is out of scope here; this interface is the seam a concrete
// backend plugs into, and NewGpuExpHeap's host-memory fallback lets the
// rest of the runtime (resource loading, tests) exercise
// the GPU heap's bookkeeping without one.
type GpuMemoryProvider interface {
	// Map returns a host-addressable view of size bytes of device memory.
	Map(size uintptr) ([]byte, result.Result)
}

type hostMemoryProvider struct{}

func (hostMemoryProvider) Map(size uintptr) ([]byte, result.Result) {
	return make([]byte, size), result.Success
}

// NewGpuExpHeap builds an ExpHeap backed by provider's device memory (or, if
// provider is nil, plain host memory standing in for it). The allocator
// algorithm is identical to a host ExpHeap; GpuExpHeap is distinguished
// from ExpHeap by its backing store, not its free-list discipline.
func NewGpuExpHeap(provider GpuMemoryProvider, size uintptr, mode AllocationMode) (*ExpHeap, result.Result) {
	if provider == nil {
		provider = hostMemoryProvider{}
	}
	arena, res := provider.Map(size)
	if res.IsFailure() {
		return nil, res
	}
	return NewExpHeap(arena, mode), result.Success
}
