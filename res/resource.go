// Package res implements the resource loading pipeline: an extension-keyed
// resource unit cache with per-unit memory accounting, an archive
// indirection layer (via filedevice), a streaming Zstd decompressor pool,
// and thread-local default archives (via filedevice.DeviceTree).
package res

import (
	"github.com/watertoon/vkruntime/internal/result"
	"github.com/watertoon/vkruntime/mem"
)

const logTag = "res"

// cInvalidSize is the resource-size-table miss sentinel.
const cInvalidSize = ^uint32(0)

// Resource is the constructed, in-memory object a ResourceFactory produces
// from a loaded file's bytes.
type Resource interface {
	// OnFileLoad is called once, after the raw (decompressed) bytes for the
	// unit are available, to let the resource parse/adopt them.
	OnFileLoad(heap *mem.Heap, data []byte) result.Result
}

// ResourceFactory constructs a Resource for one extension's resource units.
type ResourceFactory interface {
	Create() Resource
}

// ResourceFactoryFunc adapts a plain function to ResourceFactory.
type ResourceFactoryFunc func() Resource

// Create implements ResourceFactory.
func (f ResourceFactoryFunc) Create() Resource { return f() }
