package res

import (
	"sync/atomic"

	"github.com/watertoon/vkruntime/filedevice"
	"github.com/watertoon/vkruntime/internal/result"
)

// BinderStatus is a ResourceBinder's resolution state.
type BinderStatus int32

const (
	BinderPending BinderStatus = iota
	BinderReady
	BinderFailed
)

// ResourceBinder is the caller-owned handle a LoadTask resolves into once
// it completes. Load errors are captured in the binder's status rather
// than returned directly, since the load itself runs asynchronously.
type ResourceBinder struct {
	status   int32 // atomic BinderStatus
	resource Resource
	unit     *ResourceUnit
	err      result.Result

	archive filedevice.ArchiveBinder // referenced for the load's duration, may be nil
	refs    int32
}

// NewResourceBinder creates a Pending binder.
func NewResourceBinder() *ResourceBinder {
	return &ResourceBinder{}
}

// Status returns the binder's current resolution state.
func (b *ResourceBinder) Status() BinderStatus { return BinderStatus(atomic.LoadInt32(&b.status)) }

// IsFailed reports whether the most recent load attempt failed; stays true
// until the binder is reused for a new load.
func (b *ResourceBinder) IsFailed() bool { return b.Status() == BinderFailed }

// Resource returns the resolved resource, valid once Status is Ready.
func (b *ResourceBinder) Resource() Resource { return b.resource }

// Error returns the Result recorded by a failed load.
func (b *ResourceBinder) Error() result.Result { return b.err }

// resolveReady completes the binder successfully.
func (b *ResourceBinder) resolveReady(unit *ResourceUnit, resource Resource) {
	b.unit = unit
	b.resource = resource
	b.err = result.Success
	atomic.StoreInt32(&b.status, int32(BinderReady))
}

// resolveFailed completes the binder with a failure record.
func (b *ResourceBinder) resolveFailed(res result.Result) {
	b.err = res
	atomic.StoreInt32(&b.status, int32(BinderFailed))
}

// Reference takes a caller-visible reference on the binder's underlying
// unit, keeping it alive past the last other release.
func (b *ResourceBinder) Reference() {
	if b.unit != nil {
		b.unit.Reference()
	}
	atomic.AddInt32(&b.refs, 1)
}

// Release drops a reference; when the binder's count reaches zero it also
// drops its reference on the underlying unit. Releasing does not cancel a
// load that is still queued or running.
func (b *ResourceBinder) Release() {
	if atomic.AddInt32(&b.refs, -1) == 0 && b.unit != nil {
		b.unit.Release()
	}
}

// referenceArchive takes a synchronous reference on binder (if non-nil) so
// the archive cannot be unloaded mid-load.
func (b *ResourceBinder) referenceArchive(binder filedevice.ArchiveBinder) {
	b.archive = binder
	if binder != nil {
		binder.Reference()
	}
}

// releaseArchive drops the load-duration archive reference taken by
// referenceArchive.
func (b *ResourceBinder) releaseArchive() {
	if b.archive != nil {
		b.archive.Release()
		b.archive = nil
	}
}
