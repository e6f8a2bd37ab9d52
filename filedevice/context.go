package filedevice

import (
	"context"
	"sync"

	"github.com/watertoon/vkruntime/ukern"
)

// ThreadIdentity stands in for "the calling thread" the way ukern.Fiber
// already does for mem's current-heap scope: nil means the caller is a raw
// goroutine rather than a UKern fiber.
type ThreadIdentity = *ukern.Fiber

// ArchiveBinder is a refcounted handle to a mounted archive device: a
// load task takes a reference synchronously so the archive cannot be
// unloaded mid-load, and drops it again once the task finishes.
type ArchiveBinder interface {
	Device
	Reference()
	Release()
}

type defaultArchiveRegistry struct {
	mu    sync.Mutex
	byFbr map[*ukern.Fiber]ArchiveBinder
}

func newDefaultArchiveRegistry() *defaultArchiveRegistry {
	return &defaultArchiveRegistry{byFbr: map[*ukern.Fiber]ArchiveBinder{}}
}

func (r *defaultArchiveRegistry) set(self ThreadIdentity, binder ArchiveBinder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if binder == nil {
		delete(r.byFbr, self)
		return
	}
	r.byFbr[self] = binder
}

func (r *defaultArchiveRegistry) get(self ThreadIdentity) (ArchiveBinder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byFbr[self]
	return b, ok
}

// SetDefaultArchive registers binder as self's thread-local default archive
// -- any path lookup that misses every physical device is retried against
// it before failing.
func (t *DeviceTree) SetDefaultArchive(self ThreadIdentity, binder ArchiveBinder) {
	t.defaults.set(self, binder)
}

// DefaultArchive returns self's currently registered default archive, if any.
func (t *DeviceTree) DefaultArchive(self ThreadIdentity) (ArchiveBinder, bool) {
	return t.defaults.get(self)
}

type defaultArchiveKey struct{}

// WithDefaultArchive carries binder as the default archive for everything
// downstream of ctx, for call chains that thread a context.Context instead
// of an explicit fiber identity (raw service-thread load paths).
func WithDefaultArchive(ctx context.Context, binder ArchiveBinder) context.Context {
	return context.WithValue(ctx, defaultArchiveKey{}, binder)
}

// DefaultArchiveFrom extracts the binder set by the nearest enclosing
// WithDefaultArchive, or nil if none is set.
func DefaultArchiveFrom(ctx context.Context) ArchiveBinder {
	b, _ := ctx.Value(defaultArchiveKey{}).(ArchiveBinder)
	return b
}
