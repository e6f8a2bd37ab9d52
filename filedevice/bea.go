package filedevice

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/watertoon/vkruntime/internal/result"
)

// CompressionType is a BEA dictionary entry's per-file codec: None,
// Zstandard, or Zlib -- Zlib is not supported and must be rejected.
type CompressionType uint16

const (
	CompressionNone CompressionType = iota
	CompressionZstandard
	CompressionZlib
)

// beaMagic identifies a BEA archive blob.
var beaMagic = [4]byte{'B', 'E', 'A', '0'}

type beaEntry struct {
	hash             uint32
	nameOffset       uint32
	compression      CompressionType
	alignment        uint16
	dataOffset       uint32
	compressedSize   uint32
	uncompressedSize uint32
}

// BeaArchive is a parsed, read-only BEA archive: a fixed dictionary indexed
// by entry, supporting both path-string and index lookup.
type BeaArchive struct {
	entries     []beaEntry
	stringTable []byte
	blob        []byte
	decoder     *zstd.Decoder
}

// BuildBea assembles a BEA archive blob. names[i] maps to data[i] and
// compression[i] selects how that entry is stored.
func BuildBea(names []string, data [][]byte, compression []CompressionType) ([]byte, error) {
	var stringTable bytes.Buffer
	nameOffsets := make([]uint32, len(names))
	for i, n := range names {
		nameOffsets[i] = uint32(stringTable.Len())
		stringTable.WriteString(n)
		stringTable.WriteByte(0)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	type placement struct {
		entry beaEntry
		data  []byte
	}
	placements := make([]placement, len(names))
	for i, raw := range data {
		e := beaEntry{
			hash:             HashSarcName(names[i]),
			nameOffset:       nameOffsets[i],
			compression:      compression[i],
			alignment:        1,
			uncompressedSize: uint32(len(raw)),
		}
		stored := raw
		if compression[i] == CompressionZstandard {
			stored = enc.EncodeAll(raw, nil)
		}
		e.compressedSize = uint32(len(stored))
		placements[i] = placement{e, stored}
	}
	sort.Slice(placements, func(i, j int) bool { return placements[i].entry.hash < placements[j].entry.hash })

	headerSize := 16 + len(placements)*24
	offset := uint32(headerSize)
	var dataBuf bytes.Buffer
	for i := range placements {
		placements[i].entry.dataOffset = offset
		dataBuf.Write(placements[i].data)
		offset += uint32(len(placements[i].data))
	}

	var buf bytes.Buffer
	buf.Write(beaMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(len(placements)))
	binary.Write(&buf, binary.LittleEndian, offset+uint32(stringTable.Len()))
	for _, p := range placements {
		binary.Write(&buf, binary.LittleEndian, p.entry.hash)
		binary.Write(&buf, binary.LittleEndian, p.entry.nameOffset)
		binary.Write(&buf, binary.LittleEndian, uint16(p.entry.compression))
		binary.Write(&buf, binary.LittleEndian, p.entry.alignment)
		binary.Write(&buf, binary.LittleEndian, p.entry.dataOffset)
		binary.Write(&buf, binary.LittleEndian, p.entry.compressedSize)
		binary.Write(&buf, binary.LittleEndian, p.entry.uncompressedSize)
	}
	buf.Write(dataBuf.Bytes())
	buf.Write(stringTable.Bytes())
	return buf.Bytes(), nil
}

// ParseBea parses a BEA archive blob built by BuildBea.
func ParseBea(blob []byte) (*BeaArchive, result.Result) {
	if len(blob) < 16 || !bytes.Equal(blob[:4], beaMagic[:]) {
		return nil, result.ResInvalidFile
	}
	count := binary.LittleEndian.Uint32(blob[8:12])
	stringTableOffset := binary.LittleEndian.Uint32(blob[12:16])
	headerSize := 16 + int(count)*24
	if len(blob) < headerSize || int(stringTableOffset) > len(blob) {
		return nil, result.ResInvalidFile
	}
	entries := make([]beaEntry, count)
	for i := 0; i < int(count); i++ {
		off := 16 + i*24
		entries[i] = beaEntry{
			hash:             binary.LittleEndian.Uint32(blob[off : off+4]),
			nameOffset:       binary.LittleEndian.Uint32(blob[off+4 : off+8]),
			compression:      CompressionType(binary.LittleEndian.Uint16(blob[off+8 : off+10])),
			alignment:        binary.LittleEndian.Uint16(blob[off+10 : off+12]),
			dataOffset:       binary.LittleEndian.Uint32(blob[off+12 : off+16]),
			compressedSize:   binary.LittleEndian.Uint32(blob[off+16 : off+20]),
			uncompressedSize: binary.LittleEndian.Uint32(blob[off+20 : off+24]),
		}
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, result.ResInvalidFile
	}
	return &BeaArchive{
		entries:     entries,
		stringTable: blob[stringTableOffset:],
		blob:        blob,
		decoder:     dec,
	}, result.Success
}

func (a *BeaArchive) nameAt(offset uint32) string {
	end := bytes.IndexByte(a.stringTable[offset:], 0)
	if end < 0 {
		return string(a.stringTable[offset:])
	}
	return string(a.stringTable[offset : offset+uint32(end)])
}

func (a *BeaArchive) findByHash(hash uint32) (int, bool) {
	i := sort.Search(len(a.entries), func(i int) bool { return a.entries[i].hash >= hash })
	if i < len(a.entries) && a.entries[i].hash == hash {
		return i, true
	}
	return 0, false
}

// LookupByName resolves a path string through the dictionary, decoding the
// entry's payload if it's Zstandard-compressed. A Zlib entry is rejected.
func (a *BeaArchive) LookupByName(name string) ([]byte, result.Result) {
	i, ok := a.findByHash(HashSarcName(name))
	if !ok {
		return nil, result.ResFileNotFound
	}
	return a.LookupByIndex(i)
}

// LookupByIndex resolves a dictionary entry directly by index, the other
// lookup mode BEA supports.
func (a *BeaArchive) LookupByIndex(index int) ([]byte, result.Result) {
	if index < 0 || index >= len(a.entries) {
		return nil, result.ResFileNotFound
	}
	e := a.entries[index]
	raw := a.blob[e.dataOffset : e.dataOffset+e.compressedSize]
	switch e.compression {
	case CompressionNone:
		return raw, result.Success
	case CompressionZstandard:
		out, err := a.decoder.DecodeAll(raw, make([]byte, 0, e.uncompressedSize))
		if err != nil {
			return nil, result.ResInvalidFile
		}
		return out, result.Success
	case CompressionZlib:
		return nil, result.ResInvalidFile
	default:
		return nil, result.ResInvalidFile
	}
}

// EntryCount reports the number of dictionary entries.
func (a *BeaArchive) EntryCount() int { return len(a.entries) }
