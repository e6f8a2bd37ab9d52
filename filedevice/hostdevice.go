package filedevice

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/watertoon/vkruntime/internal/corelog"
	"github.com/watertoon/vkruntime/internal/result"
)

const logTag = "filedevice"

// HostDevice mounts a physical directory as a file device, the "drive" for
// ordinary on-disk paths. It wraps a single root directory and resolves
// every call relative to it, the same way a cache backend wraps a remote
// fs.Fs (backend/cache wraps a remote fs.Fs the same way a HostDevice wraps a
// host directory).
type HostDevice struct {
	root string
}

// NewHostDevice mounts root as the backing directory for a drive.
func NewHostDevice(root string) *HostDevice {
	return &HostDevice{root: root}
}

func (d *HostDevice) resolve(relativePath string) string {
	return filepath.Join(d.root, filepath.FromSlash(relativePath))
}

// OpenFile implements Device.
func (d *HostDevice) OpenFile(relativePath string) (ReadCloser, result.Result) {
	f, err := os.Open(d.resolve(relativePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, result.ResFileNotFound
		}
		corelog.Errorf(logTag, "open %q: %v", relativePath, err)
		return nil, result.ResInvalidFile
	}
	return f, result.Success
}

// Stat implements Device.
func (d *HostDevice) Stat(relativePath string) FileInfo {
	info, err := os.Stat(d.resolve(relativePath))
	if err != nil {
		return FileInfo{}
	}
	return FileInfo{Size: info.Size(), IsDir: info.IsDir(), Exists: true}
}

// OpenDir implements Device.
func (d *HostDevice) OpenDir(relativePath string) ([]DirEntry, result.Result) {
	entries, err := os.ReadDir(d.resolve(relativePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, result.ResPathNotFound
		}
		return nil, result.ResInvalidFile
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, result.Success
}

// FormatPath implements Device: host paths are forward-slash-normalized and
// case-preserved.
func (d *HostDevice) FormatPath(relativePath string) string {
	return strings.ReplaceAll(relativePath, "\\", "/")
}
