package filedevice

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"sort"

	"github.com/watertoon/vkruntime/internal/result"
)

// SARC archives store entries uncompressed and resolve them purely through
// a hashed-name dictionary lookup returning (data-pointer, data-size). No
// decompression; archive entries are stored uncompressed.
//
// Binary layout (little-endian):
//
//	magic       [4]byte "SARC"
//	version     uint32
//	entryCount  uint32
//	each entry: nameHash uint32, dataOffset uint32, dataSize uint32
//	raw entry data, back to back, at the offsets above
var sarcMagic = [4]byte{'S', 'A', 'R', 'C'}

type sarcEntry struct {
	hash       uint32
	dataOffset uint32
	dataSize   uint32
}

// SarcArchive is a parsed, read-only SARC archive.
type SarcArchive struct {
	entries []sarcEntry
	data    []byte
	refs    int32
}

// HashSarcName computes the entry-name hash SARC lookups key on.
func HashSarcName(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(name))
}

// BuildSarc assembles a SARC archive blob from a name->data map, sorted by
// name hash so ParseSarc's binary search is well-founded.
func BuildSarc(files map[string][]byte) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return HashSarcName(names[i]) < HashSarcName(names[j]) })

	var buf bytes.Buffer
	buf.Write(sarcMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(len(names)))

	headerSize := 12 + len(names)*12
	offset := uint32(headerSize)
	type placement struct {
		hash, offset, size uint32
	}
	placements := make([]placement, 0, len(names))
	var dataBuf bytes.Buffer
	for _, name := range names {
		data := files[name]
		placements = append(placements, placement{HashSarcName(name), offset, uint32(len(data))})
		dataBuf.Write(data)
		offset += uint32(len(data))
	}
	for _, p := range placements {
		binary.Write(&buf, binary.LittleEndian, p.hash)
		binary.Write(&buf, binary.LittleEndian, p.offset)
		binary.Write(&buf, binary.LittleEndian, p.size)
	}
	buf.Write(dataBuf.Bytes())
	return buf.Bytes()
}

// ParseSarc parses a SARC archive blob built by BuildSarc (or an equivalent
// producer following the same layout).
func ParseSarc(blob []byte) (*SarcArchive, result.Result) {
	if len(blob) < 12 || !bytes.Equal(blob[:4], sarcMagic[:]) {
		return nil, result.ResInvalidFile
	}
	count := binary.LittleEndian.Uint32(blob[8:12])
	headerSize := 12 + int(count)*12
	if len(blob) < headerSize {
		return nil, result.ResInvalidFile
	}
	entries := make([]sarcEntry, count)
	for i := 0; i < int(count); i++ {
		off := 12 + i*12
		entries[i] = sarcEntry{
			hash:       binary.LittleEndian.Uint32(blob[off : off+4]),
			dataOffset: binary.LittleEndian.Uint32(blob[off+4 : off+8]),
			dataSize:   binary.LittleEndian.Uint32(blob[off+8 : off+12]),
		}
	}
	return &SarcArchive{entries: entries, data: blob}, result.Success
}

// find performs a binary search over the hash-sorted entry table.
func (a *SarcArchive) find(hash uint32) (sarcEntry, bool) {
	i := sort.Search(len(a.entries), func(i int) bool { return a.entries[i].hash >= hash })
	if i < len(a.entries) && a.entries[i].hash == hash {
		return a.entries[i], true
	}
	return sarcEntry{}, false
}

// Lookup returns the (data-pointer, data-size) pair for a hashed-name
// entry lookup.
func (a *SarcArchive) Lookup(name string) ([]byte, bool) {
	e, ok := a.find(HashSarcName(name))
	if !ok {
		return nil, false
	}
	return a.data[e.dataOffset : e.dataOffset+e.dataSize], true
}
