package res

import (
	"context"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/semaphore"

	"github.com/watertoon/vkruntime/internal/result"
	"github.com/watertoon/vkruntime/ukern"
)

// cReadSize is the streaming decode chunk size (0xd0000 bytes), and
// maxLeftover is the carry buffer between chunks (128 KiB).
const (
	cReadSize   = 0xd0000
	maxLeftover = 128 * 1024
	maxDictSlots = 8
)

// Decompressor is one pooled Zstd decoder with up to 8 dictionary slots by
// dictionary id.
type Decompressor struct {
	id      uint32
	decoder *zstd.Decoder

	mu    sync.Mutex
	dicts map[uint32][]byte

	worker *ukern.Fiber // updated on acquire to match the caller's priority/affinity
}

// LoadDictionary installs dictID's raw bytes into this decompressor's
// dictionary table. If all 8 slots are in use, one existing slot is
// evicted; which one is not defined (the first key map iteration yields).
func (d *Decompressor) LoadDictionary(dictID uint32, dict []byte) result.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dicts == nil {
		d.dicts = map[uint32][]byte{}
	}
	if _, exists := d.dicts[dictID]; !exists && len(d.dicts) >= maxDictSlots {
		for k := range d.dicts {
			delete(d.dicts, k)
			break
		}
	}
	d.dicts[dictID] = dict
	return result.Success
}

// DecodeAll decompresses the entirety of src, optionally resolved against
// dictID's loaded dictionary (0 means no dictionary).
func (d *Decompressor) DecodeAll(src []byte, dictID uint32, expectedSize uint32) ([]byte, result.Result) {
	dec := d.decoder
	if dictID != 0 {
		d.mu.Lock()
		dict, ok := d.dicts[dictID]
		d.mu.Unlock()
		if ok {
			withDict, err := zstd.NewReader(nil, zstd.WithDecoderDicts(dict))
			if err != nil {
				return nil, result.ResInvalidFile
			}
			defer withDict.Close()
			dec = withDict
		}
	}
	out, err := dec.DecodeAll(src, make([]byte, 0, expectedSize))
	if err != nil {
		return nil, result.ResInvalidFile
	}
	return out, result.Success
}

// DecodeStream decodes src in cReadSize-sized chunks, carrying up to
// maxLeftover bytes of partially-consumed input between chunks, the
// chunked-streaming discipline the decompressor worker fiber follows.
// Since klauspost/compress's DecodeAll already streams internally, this
// reproduces that chunk/leftover bookkeeping over calls to DecodeAll on
// successive slices, matching the observable behavior (bounded per-call
// working set) without re-implementing Zstd's block format by hand.
func (d *Decompressor) DecodeStream(src []byte, expectedSize uint32) ([]byte, result.Result) {
	out := make([]byte, 0, expectedSize)
	var leftover []byte
	for offset := 0; offset < len(src); {
		end := offset + cReadSize
		if end > len(src) {
			end = len(src)
		}
		chunk := append(append([]byte{}, leftover...), src[offset:end]...)
		decoded, err := d.decoder.DecodeAll(chunk, nil)
		if err != nil {
			// Not enough of the frame yet: carry the chunk forward, bounded
			// to maxLeftover, and continue reading.
			if len(chunk) > maxLeftover {
				chunk = chunk[len(chunk)-maxLeftover:]
			}
			leftover = chunk
			offset = end
			continue
		}
		out = append(out, decoded...)
		leftover = nil
		offset = end
	}
	return out, result.Success
}

// DecompressorManager is an atomic index allocator over a fixed-size pool
// of Zstd decompressors, one per usable core. Acquire pops a free handle;
// if every decompressor is checked out, it blocks until one is released.
type DecompressorManager struct {
	decompressors []*Decompressor
	sem           *semaphore.Weighted

	mu   sync.Mutex
	free []uint32
}

// NewDecompressorManager builds a pool of coreCount decompressors.
func NewDecompressorManager(coreCount int) (*DecompressorManager, error) {
	if coreCount <= 0 {
		coreCount = 1
	}
	m := &DecompressorManager{sem: semaphore.NewWeighted(int64(coreCount))}
	for i := 0; i < coreCount; i++ {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		m.decompressors = append(m.decompressors, &Decompressor{id: uint32(i), decoder: dec})
		m.free = append(m.free, uint32(i))
	}
	return m, nil
}

// Acquire pops a free decompressor, blocking on the pool's free-event
// (implemented as a weighted semaphore) if every decompressor is in use.
// worker is attached to the checked-out decompressor's bookkeeping fiber
// to match the caller's request.
func (m *DecompressorManager) Acquire(ctx context.Context, worker *ukern.Fiber) (*Decompressor, result.Result) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, result.AsyncCancelled
	}
	m.mu.Lock()
	idx := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]
	m.mu.Unlock()

	d := m.decompressors[idx]
	d.mu.Lock()
	d.worker = worker
	d.mu.Unlock()
	return d, result.Success
}

// Release returns d to the pool and signals the free-event.
func (m *DecompressorManager) Release(d *Decompressor) {
	m.mu.Lock()
	m.free = append(m.free, d.id)
	m.mu.Unlock()
	m.sem.Release(1)
}
