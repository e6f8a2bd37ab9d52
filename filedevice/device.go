// Package filedevice implements the file device layer: a drive-name-keyed
// tree of mounted file devices (physical directories and archive-backed
// devices alike), plus the thread-local default-archive
// fallback used when a path lookup misses every physical device.
package filedevice

import (
	"hash/crc32"
	"strings"
	"sync"

	"github.com/watertoon/vkruntime/containers"
	"github.com/watertoon/vkruntime/internal/result"
)

// FileInfo is the subset of metadata query/size/existence operations need.
type FileInfo struct {
	Size   int64
	IsDir  bool
	Exists bool
}

// DirEntry names one child of an opened directory.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Device is one drive-name-keyed node: open/close/read/write/flush a file,
// open/close/read a directory, format a path, and query size/existence --
// the operation set a file device must support.
type Device interface {
	// OpenFile opens relativePath (already stripped of the "drive:" prefix)
	// for reading. Archive-backed devices resolve it through their entry
	// dictionary instead of a host filesystem call.
	OpenFile(relativePath string) (ReadCloser, result.Result)
	// Stat queries size/existence without opening the file.
	Stat(relativePath string) FileInfo
	// OpenDir lists the immediate children of relativePath.
	OpenDir(relativePath string) ([]DirEntry, result.Result)
	// FormatPath normalizes relativePath to this device's own separator and
	// case-folding conventions.
	FormatPath(relativePath string) string
}

// ReadCloser is the handle returned by Device.OpenFile.
type ReadCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

// driveKey interns a drive name as a hash rather than keying the tree on
// the raw string.
func driveKey(drive string) uint32 {
	return crc32.ChecksumIEEE([]byte(strings.ToLower(drive)))
}

// DeviceTree is the process-wide, drive-name-hash-keyed map of mounted
// devices. containers.OrderedTree stands in for a red-black tree -- see
// DESIGN.md for why an unbalanced BST is an acceptable
// substitute for this module's own testable properties.
type DeviceTree struct {
	mu       sync.RWMutex
	byKey    *containers.OrderedTree[uint32, Device]
	names    map[uint32]string
	defaults *defaultArchiveRegistry
}

// NewDeviceTree creates an empty device tree.
func NewDeviceTree() *DeviceTree {
	return &DeviceTree{
		byKey:    containers.NewOrderedTree[uint32, Device](),
		names:    map[uint32]string{},
		defaults: newDefaultArchiveRegistry(),
	}
}

// Mount registers dev under drive name, replacing any existing device
// mounted at the same name.
func (t *DeviceTree) Mount(drive string, dev Device) {
	key := driveKey(drive)
	t.mu.Lock()
	t.byKey.Insert(key, dev)
	t.names[key] = drive
	t.mu.Unlock()
}

// Unmount removes the device mounted at drive, if any.
func (t *DeviceTree) Unmount(drive string) {
	key := driveKey(drive)
	t.mu.Lock()
	t.byKey.Delete(key)
	delete(t.names, key)
	t.mu.Unlock()
}

// splitPath splits "drive:relative/path" into its drive and relative parts.
// A path with no colon has no drive component.
func splitPath(path string) (drive, relative string, hasDrive bool) {
	idx := strings.IndexByte(path, ':')
	if idx < 0 {
		return "", path, false
	}
	return path[:idx], path[idx+1:], true
}

// Resolve splits path into drive + relative path and returns the mounted
// device for that drive: an incoming path splits into drive: +
// relative-path, and the device registered for that drive is returned.
func (t *DeviceTree) Resolve(path string) (dev Device, relative string, res result.Result) {
	drive, relative, hasDrive := splitPath(path)
	if !hasDrive {
		return nil, path, result.ResPathNotFound
	}
	key := driveKey(drive)
	t.mu.RLock()
	dev, ok := t.byKey.Find(key)
	t.mu.RUnlock()
	if !ok {
		return nil, relative, result.ResPathNotFound
	}
	return dev, relative, result.Success
}

// OpenFile resolves path against the device tree; if no physical device
// claims it, falls back to the calling thread's default archive binder
// before failing.
func (t *DeviceTree) OpenFile(self ThreadIdentity, path string) (ReadCloser, result.Result) {
	dev, relative, res := t.Resolve(path)
	if res.IsSuccess() {
		rc, openRes := dev.OpenFile(relative)
		if openRes.IsSuccess() {
			return rc, result.Success
		}
	}
	if archive, ok := t.defaults.get(self); ok {
		return archive.OpenFile(relative)
	}
	return nil, result.ResFileNotFound
}
