package mem

import (
	"testing"

	"github.com/watertoon/vkruntime/ukern"
)

func TestExpHeapAllocateFreeCoalesces(t *testing.T) {
	h := NewExpHeap(make([]byte, 4096), ModeFirstFit)
	a, res := h.Allocate(64, 8)
	if res.IsFailure() {
		t.Fatalf("allocate a: %v", res)
	}
	b, res := h.Allocate(64, 8)
	if res.IsFailure() {
		t.Fatalf("allocate b: %v", res)
	}
	c, res := h.Allocate(64, 8)
	if res.IsFailure() {
		t.Fatalf("allocate c: %v", res)
	}

	blocksBeforeFree := h.BlockCount()

	if res := h.Free(b); res.IsFailure() {
		t.Fatalf("free b: %v", res)
	}
	if res := h.Free(a); res.IsFailure() {
		t.Fatalf("free a: %v", res)
	}
	if res := h.Free(c); res.IsFailure() {
		t.Fatalf("free c: %v", res)
	}

	if h.BlockCount() != 1 {
		t.Fatalf("expected a single coalesced free block after freeing all allocations, got %d blocks (had %d before freeing)", h.BlockCount(), blocksBeforeFree)
	}
	if h.FreeBytes() != uintptr(len(h.arena)) {
		t.Fatalf("expected all %d bytes free, got %d", len(h.arena), h.FreeBytes())
	}
}

func TestExpHeapDoubleFreeRejected(t *testing.T) {
	h := NewExpHeap(make([]byte, 1024), ModeFirstFit)
	a, _ := h.Allocate(32, 8)
	h.Free(a)
	if res := h.Free(a); !res.IsFailure() {
		t.Fatalf("expected double free to be rejected")
	}
}

func TestExpHeapOutOfMemory(t *testing.T) {
	h := NewExpHeap(make([]byte, 128), ModeFirstFit)
	if _, res := h.Allocate(1024, 8); !res.IsFailure() {
		t.Fatalf("expected out-of-memory result for oversized request")
	}
}

func TestVirtualAddressHeapSmallAllocationsPackIntoOneRegion(t *testing.T) {
	v := NewVirtualAddressHeap(make([]byte, 4*regionSize))
	addrs := make([]uintptr, 0, 16)
	for i := 0; i < 16; i++ {
		addr, res := v.Allocate(32, 8)
		if res.IsFailure() {
			t.Fatalf("allocate %d: %v", i, res)
		}
		addrs = append(addrs, addr)
	}
	if v.regions.Len() != 1 {
		t.Fatalf("expected small allocations to share one region, got %d regions", v.regions.Len())
	}
	for _, a := range addrs {
		if res := v.Free(a); res.IsFailure() {
			t.Fatalf("free %d: %v", a, res)
		}
	}
}

func TestVirtualAddressHeapLargeAllocationGetsOwnRegion(t *testing.T) {
	v := NewVirtualAddressHeap(make([]byte, 4*regionSize))
	addr, res := v.Allocate(2*regionSize, 8)
	if res.IsFailure() {
		t.Fatalf("allocate large: %v", res)
	}
	if v.regions.Len() != 1 {
		t.Fatalf("expected exactly one region for the large allocation, got %d", v.regions.Len())
	}
	if res := v.Free(addr); res.IsFailure() {
		t.Fatalf("free large: %v", res)
	}
}

type fakeDisposer struct{ fired *[]string; name string }

func (f fakeDisposer) Dispose() { *f.fired = append(*f.fired, f.name) }

func TestHeapDestroyFiresChildDisposersBeforeOwn(t *testing.T) {
	m := NewManager()
	root, res := m.CreateRootHeap(RootOptions{Name: "root", Kind: KindExp, Arena: make([]byte, 64 * 1024)})
	if res.IsFailure() {
		t.Fatalf("create root: %v", res)
	}
	child, res := m.CreateChildHeap(root, "child", 4096, RootOptions{Kind: KindExp})
	if res.IsFailure() {
		t.Fatalf("create child: %v", res)
	}

	var fired []string
	root.AddDisposer(fakeDisposer{&fired, "root-1"})
	root.AddDisposer(fakeDisposer{&fired, "root-2"})
	child.AddDisposer(fakeDisposer{&fired, "child-1"})

	root.Destroy()

	if len(fired) != 3 {
		t.Fatalf("expected 3 disposers fired, got %v", fired)
	}
	if fired[0] != "child-1" {
		t.Fatalf("expected child disposers to fire before the parent's own, got %v", fired)
	}
}

func TestScopedCurrentThreadHeapRestoresPrevious(t *testing.T) {
	s := ukern.NewScheduler(ukern.InitOptions{CoreCount: 1, MaxFiberCount: 8})
	f, _ := s.Create(ukern.CreateOptions{Priority: 10}, func(self *ukern.Fiber) {})

	m := NewManager()
	outer, _ := m.CreateRootHeap(RootOptions{Name: "outer", Kind: KindExp, Arena: make([]byte, 4096)})
	inner, _ := m.CreateRootHeap(RootOptions{Name: "inner", Kind: KindExp, Arena: make([]byte, 4096)})

	SetCurrentThreadHeap(f, outer)
	scope := NewScopedCurrentThreadHeap(f, inner)
	if CurrentThreadHeap(f) != inner {
		t.Fatalf("expected inner heap to be current inside scope")
	}
	scope.Close()
	if CurrentThreadHeap(f) != outer {
		t.Fatalf("expected outer heap restored after scope closes")
	}
}
