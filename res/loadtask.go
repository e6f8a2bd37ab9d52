package res

import (
	"context"
	"errors"
	"io"
	stdpath "path"

	"github.com/watertoon/vkruntime/async"
	"github.com/watertoon/vkruntime/filedevice"
	"github.com/watertoon/vkruntime/internal/corelog"
	"github.com/watertoon/vkruntime/internal/result"
	"github.com/watertoon/vkruntime/mem"
	"github.com/watertoon/vkruntime/ukern"
)

// heapOverhead is added to a resource's decompressed size when sizing its
// per-unit heap, so small internal allocator bookkeeping doesn't immediately
// exhaust a tightly-sized heap.
const heapOverhead = 256

// LoadRequest gathers what a load task carries: priority, caller heap, an
// optional archive binder reference, and the path to load.
type LoadRequest struct {
	Path     string
	Priority int32

	HeapManager *mem.Manager
	ParentHeap  *mem.Heap

	// Archive, if non-nil, is referenced for the load's duration so it
	// cannot be unloaded mid-load. It is not searched: the file is opened
	// through the device tree, whose thread-local default archive for Self
	// still applies.
	Archive filedevice.ArchiveBinder

	// DictID selects a pre-loaded dictionary slot for Zstd-compressed
	// entries; 0 means no dictionary.
	DictID uint32

	Self filedevice.ThreadIdentity // calling fiber, or nil for a service thread
}

// PushLoadTask submits a resource load: device lookup -> read -> size-table
// consult -> decompressor-selected decode -> resource factory invocation ->
// binder completion. Concurrent loads of the same path are coalesced onto
// the single ResourceUnit reserved by the first caller; later callers
// simply wait for it and share the result.
func PushLoadTask(
	queue *async.Queue,
	devices *filedevice.DeviceTree,
	ext *ExtensionManager,
	sizeTable *ResourceSizeTableManager,
	decomp *DecompressorManager,
	factory ResourceFactory,
	req LoadRequest,
) (*ResourceBinder, *async.Task, result.Result) {
	manager := ext.GetResourceUnitManager(stdpath.Ext(req.Path))
	compression, _ := ext.GetCompressionExtension(stdpath.Ext(req.Path))
	unit, created, res := manager.GetOrCreate(req.Path)
	if res.IsFailure() {
		return nil, nil, res
	}

	binder := NewResourceBinder()
	if req.Archive != nil {
		binder.referenceArchive(req.Archive)
	}

	execute := func(t *async.Task) result.Result {
		defer binder.releaseArchive()

		if created {
			unit.setStatus(UnitLoading)
			loadRes := loadUnit(unit, devices, sizeTable, decomp, factory, req, compression)
			unit.loadErr = loadRes
			if loadRes.IsSuccess() {
				unit.setStatus(UnitReady)
			} else {
				unit.setStatus(UnitFailed)
				manager.metricLoadFails.Inc()
			}
			close(unit.loadDone)
		} else if unit.loadDone != nil {
			<-unit.loadDone
		}

		if unit.loadErr.IsFailure() {
			binder.resolveFailed(unit.loadErr)
			return unit.loadErr
		}
		binder.Reference()
		binder.resolveReady(unit, unit.resource)
		return result.Success
	}

	task, res := queue.PushTask(async.PushInfo{
		Priority: req.Priority,
		Execute:  execute,
		UserData: req.Path,
	})
	return binder, task, res
}

// loadUnit performs the actual device read, decompression, and resource
// construction for a freshly-reserved unit. Called with the unit already
// linked into its manager's tree but before any caller can observe it as
// Ready.
func loadUnit(
	unit *ResourceUnit,
	devices *filedevice.DeviceTree,
	sizeTable *ResourceSizeTableManager,
	decomp *DecompressorManager,
	factory ResourceFactory,
	req LoadRequest,
	compression CompressionType,
) result.Result {
	file, res := devices.OpenFile(req.Self, req.Path)
	if res.IsFailure() {
		corelog.Errorf(logTag, "load %q: open failed: %v", req.Path, res)
		return res
	}
	defer file.Close()

	raw, res := readAll(file)
	if res.IsFailure() {
		return res
	}

	expectedSize, haveSize := sizeTable.Lookup(req.Path)
	if !haveSize {
		expectedSize = uint32(len(raw))
	}

	var data []byte
	switch compression {
	case CompressionZstandard:
		d, res := decomp.Acquire(context.Background(), fiberOf(req.Self))
		if res.IsFailure() {
			return res
		}
		defer decomp.Release(d)
		decoded, res := d.DecodeAll(raw, req.DictID, expectedSize)
		if res.IsFailure() {
			corelog.Errorf(logTag, "load %q: decompress failed: %v", req.Path, res)
			return res
		}
		data = decoded
	default:
		data = raw
	}

	heapSize := uintptr(len(data)) + heapOverhead
	var heap *mem.Heap
	if req.HeapManager != nil && req.ParentHeap != nil {
		h, res := req.HeapManager.CreateChildHeap(req.ParentHeap, "resource:"+req.Path, heapSize, mem.RootOptions{Kind: mem.KindExp})
		if res.IsFailure() {
			corelog.Errorf(logTag, "load %q: per-unit heap creation failed: %v", req.Path, res)
			return res
		}
		heap = h
	}

	resource := factory.Create()
	if res := resource.OnFileLoad(heap, data); res.IsFailure() {
		if heap != nil {
			heap.Destroy()
		}
		return res
	}

	unit.heap = heap
	unit.data = data
	unit.resource = resource
	return result.Success
}

// fiberOf returns self as a *ukern.Fiber, or nil for a service-thread
// caller.
func fiberOf(self filedevice.ThreadIdentity) *ukern.Fiber {
	return self
}

// readAll drains rc fully into a single buffer.
func readAll(rc filedevice.ReadCloser) ([]byte, result.Result) {
	var out []byte
	buf := make([]byte, 64*1024)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, result.Success
			}
			return out, result.ResInvalidFile
		}
		if n == 0 {
			return out, result.Success
		}
	}
}
