package res

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/watertoon/vkruntime/async"
	"github.com/watertoon/vkruntime/filedevice"
	"github.com/watertoon/vkruntime/internal/result"
	"github.com/watertoon/vkruntime/mem"
	"github.com/watertoon/vkruntime/ukern"
)

// recordingResource captures what OnFileLoad was handed, for assertions.
type recordingResource struct {
	heap *mem.Heap
	data []byte
}

func (r *recordingResource) OnFileLoad(heap *mem.Heap, data []byte) result.Result {
	r.heap = heap
	r.data = append([]byte{}, data...)
	return result.Success
}

// countingFactory counts how many times Create is called, so coalesced
// loads can be confirmed to construct the underlying resource exactly once.
type countingFactory struct {
	creates int32
}

func (f *countingFactory) Create() Resource {
	atomic.AddInt32(&f.creates, 1)
	return &recordingResource{}
}

func newTestQueue(t *testing.T, workers int) *async.Queue {
	t.Helper()
	sched := ukern.NewScheduler(ukern.InitOptions{CoreCount: 2, MaxFiberCount: 64})
	return async.NewQueue(sched, async.QueueOptions{Name: "res-test", PriorityLevels: 4, WorkerCount: workers})
}

func newTestDecompressorManager(t *testing.T, coreCount int) *DecompressorManager {
	t.Helper()
	m, err := NewDecompressorManager(coreCount)
	if err != nil {
		t.Fatalf("new decompressor manager: %v", err)
	}
	return m
}

func newTestSizeTable(t *testing.T) *ResourceSizeTableManager {
	t.Helper()
	m, err := NewResourceSizeTableManager(filepath.Join(t.TempDir(), "sizes.db"))
	if err != nil {
		t.Fatalf("new size table: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func waitForTask(t *testing.T, task *async.Task) result.Result {
	t.Helper()
	task.Wait()
	return task.Result()
}

func TestLoadTaskLoadsUncompressedResourceFromHostDevice(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "model.bin"), []byte("hello resource"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	devices := filedevice.NewDeviceTree()
	devices.Mount("host", filedevice.NewHostDevice(dir))

	alloc := NewResourceUnitAllocator(8)
	manager := NewResourceUnitManager("default", alloc, 4)
	ext := NewExtensionManager(manager)
	sizeTable := newTestSizeTable(t)
	decomp := newTestDecompressorManager(t, 1)
	factory := &countingFactory{}

	q := newTestQueue(t, 2)
	binder, task, res := PushLoadTask(q, devices, ext, sizeTable, decomp, factory, LoadRequest{
		Path:     "host:model.bin",
		Priority: 1,
	})
	if res.IsFailure() {
		t.Fatalf("push load task: %v", res)
	}
	if outcome := waitForTask(t, task); outcome.IsFailure() {
		t.Fatalf("load task failed: %v", outcome)
	}
	if binder.Status() != BinderReady {
		t.Fatalf("expected binder Ready, got %v (err=%v)", binder.Status(), binder.Error())
	}
	rr, ok := binder.Resource().(*recordingResource)
	if !ok {
		t.Fatalf("expected *recordingResource, got %T", binder.Resource())
	}
	if string(rr.data) != "hello resource" {
		t.Fatalf("unexpected resource data: %q", rr.data)
	}
	if atomic.LoadInt32(&factory.creates) != 1 {
		t.Fatalf("expected exactly one factory.Create call, got %d", factory.creates)
	}
}

func TestLoadTaskDecompressesZstandardExtensionViaDecompressorPool(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog, repeated for a bigger frame: the quick brown fox jumps over the lazy dog")
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("new zstd writer: %v", err)
	}
	compressed := enc.EncodeAll(original, nil)
	enc.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "asset.cz"), compressed, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	devices := filedevice.NewDeviceTree()
	devices.Mount("host", filedevice.NewHostDevice(dir))

	defaultAlloc := NewResourceUnitAllocator(8)
	defaultManager := NewResourceUnitManager("default", defaultAlloc, 4)
	ext := NewExtensionManager(defaultManager)

	czAlloc := NewResourceUnitAllocator(8)
	czManager := NewResourceUnitManager("cz", czAlloc, 4)
	ext.Register(".cz", CompressionZstandard, czManager)

	sizeTable := newTestSizeTable(t)
	sizeTable.Put("host:asset.cz", uint32(len(original)))
	decomp := newTestDecompressorManager(t, 1)
	factory := &countingFactory{}

	q := newTestQueue(t, 2)
	binder, task, res := PushLoadTask(q, devices, ext, sizeTable, decomp, factory, LoadRequest{
		Path:     "host:asset.cz",
		Priority: 0,
	})
	if res.IsFailure() {
		t.Fatalf("push load task: %v", res)
	}
	if outcome := waitForTask(t, task); outcome.IsFailure() {
		t.Fatalf("load task failed: %v", outcome)
	}
	rr := binder.Resource().(*recordingResource)
	if string(rr.data) != string(original) {
		t.Fatalf("decompressed mismatch: got %q want %q", rr.data, original)
	}
}

func TestLoadTaskCoalescesConcurrentLoadsOfSamePath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "shared.bin"), []byte("shared payload"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	devices := filedevice.NewDeviceTree()
	devices.Mount("host", filedevice.NewHostDevice(dir))

	alloc := NewResourceUnitAllocator(8)
	manager := NewResourceUnitManager("default", alloc, 4)
	ext := NewExtensionManager(manager)
	sizeTable := newTestSizeTable(t)
	decomp := newTestDecompressorManager(t, 2)
	factory := &countingFactory{}

	q := newTestQueue(t, 4)

	const callers = 8
	var wg sync.WaitGroup
	binders := make([]*ResourceBinder, callers)
	tasks := make([]*async.Task, callers)
	for i := 0; i < callers; i++ {
		b, tk, res := PushLoadTask(q, devices, ext, sizeTable, decomp, factory, LoadRequest{
			Path:     "host:shared.bin",
			Priority: 0,
		})
		if res.IsFailure() {
			t.Fatalf("push load task %d: %v", i, res)
		}
		binders[i] = b
		tasks[i] = tk
	}
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			waitForTask(t, tasks[i])
		}()
	}
	wg.Wait()

	for i, b := range binders {
		if b.Status() != BinderReady {
			t.Fatalf("binder %d: expected Ready, got %v (%v)", i, b.Status(), b.Error())
		}
	}
	if got := atomic.LoadInt32(&factory.creates); got != 1 {
		t.Fatalf("expected coalesced loads to construct the resource exactly once, got %d", got)
	}
}

func TestLoadTaskFailurePropagatesToBinderOnMissingFile(t *testing.T) {
	devices := filedevice.NewDeviceTree()
	devices.Mount("host", filedevice.NewHostDevice(t.TempDir()))

	alloc := NewResourceUnitAllocator(8)
	manager := NewResourceUnitManager("default", alloc, 4)
	ext := NewExtensionManager(manager)
	sizeTable := newTestSizeTable(t)
	decomp := newTestDecompressorManager(t, 1)
	factory := &countingFactory{}

	q := newTestQueue(t, 1)
	binder, task, res := PushLoadTask(q, devices, ext, sizeTable, decomp, factory, LoadRequest{
		Path:     "host:does-not-exist.bin",
		Priority: 0,
	})
	if res.IsFailure() {
		t.Fatalf("push load task: %v", res)
	}
	waitForTask(t, task)
	if binder.Status() != BinderFailed {
		t.Fatalf("expected binder Failed, got %v", binder.Status())
	}
	if !binder.IsFailed() || binder.Error().IsSuccess() {
		t.Fatalf("expected a recorded failure result, got %v", binder.Error())
	}

	// A retried load of the same path, after the prior failure, must not be
	// stuck forever on the stale failed unit.
	binder2, task2, res := PushLoadTask(q, devices, ext, sizeTable, decomp, factory, LoadRequest{
		Path:     "host:does-not-exist.bin",
		Priority: 0,
	})
	if res.IsFailure() {
		t.Fatalf("push retried load task: %v", res)
	}
	waitForTask(t, task2)
	if binder2.Status() != BinderFailed {
		t.Fatalf("expected retried binder Failed, got %v", binder2.Status())
	}
}

func TestResourceUnitManagerClearCacheForAllocateEvictsLeastRecentlyUsed(t *testing.T) {
	alloc := NewResourceUnitAllocator(8)
	manager := NewResourceUnitManager("default", alloc, 8)

	const n = 4
	units := make([]*ResourceUnit, n)
	for i := 0; i < n; i++ {
		u, created, res := manager.GetOrCreate(filepath.Join("path", string(rune('a'+i))))
		if res.IsFailure() || !created {
			t.Fatalf("get or create %d: created=%v res=%v", i, created, res)
		}
		u.data = make([]byte, 100)
		u.resource = &recordingResource{}
		close(u.loadDone)
		u.setStatus(UnitReady)
		units[i] = u
	}
	for _, u := range units {
		u.Reference()
		u.Release() // drop to Evictable, linking onto the free-cache LRU
	}

	evicted := manager.ClearCacheForAllocate(250)
	if evicted < 2 {
		t.Fatalf("expected at least 2 units evicted to free 250 bytes at 100 bytes/unit, got %d", evicted)
	}
	if units[0].Status() != UnitDestroyed {
		t.Fatalf("expected least-recently-used unit destroyed first, got status %v", units[0].Status())
	}
}

func TestDecompressorManagerBlocksUntilRelease(t *testing.T) {
	m := newTestDecompressorManager(t, 1)
	d1, res := m.Acquire(context.Background(), nil)
	if res.IsFailure() {
		t.Fatalf("acquire: %v", res)
	}

	acquired := make(chan struct{})
	go func() {
		d2, res := m.Acquire(context.Background(), nil)
		if res.IsFailure() {
			t.Errorf("second acquire: %v", res)
			return
		}
		m.Release(d2)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("second acquire should have blocked while the pool's only decompressor is checked out")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release(d1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second acquire never unblocked after release")
	}
}
