package res

import (
	"encoding/binary"
	"time"

	"github.com/patrickmn/go-cache"
	bolt "go.etcd.io/bbolt"

	"github.com/watertoon/vkruntime/internal/corelog"
)

var sizeTableBucket = []byte("sizes")

// ResourceSizeTableManager extracts an upper-bound memory footprint for a
// resource path from a pre-built table keyed by path. Fallback tables may
// be registered and are searched in registration order after the primary
// table misses.
//
// The primary table is a bbolt database, the same boltdb-shaped
// persistence used throughout the cache backends this was grounded on; an
// in-process go-cache layer sits in front of it so repeated lookups of the
// same hot path during a load burst don't round-trip through bbolt.
type ResourceSizeTableManager struct {
	db        *bolt.DB
	hot       *cache.Cache
	fallbacks []*bolt.DB
}

// NewResourceSizeTableManager opens (or creates) the primary size table at
// dbPath.
func NewResourceSizeTableManager(dbPath string) (*ResourceSizeTableManager, error) {
	db, err := bolt.Open(dbPath, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sizeTableBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &ResourceSizeTableManager{
		db:  db,
		hot: cache.New(5*time.Minute, 10*time.Minute),
	}, nil
}

// RegisterFallback adds an additional table searched, in registration
// order, after the primary table misses.
func (m *ResourceSizeTableManager) RegisterFallback(db *bolt.DB) {
	m.fallbacks = append(m.fallbacks, db)
}

// Put records path's upper-bound size in the primary table.
func (m *ResourceSizeTableManager) Put(path string, size uint32) error {
	m.hot.Set(path, size, cache.DefaultExpiration)
	return m.db.Update(func(tx *bolt.Tx) error {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], size)
		return tx.Bucket(sizeTableBucket).Put([]byte(path), buf[:])
	})
}

// Lookup returns path's recorded size, or (cInvalidSize, false) on a full
// miss across the primary table and every registered fallback.
func (m *ResourceSizeTableManager) Lookup(path string) (uint32, bool) {
	if v, ok := m.hot.Get(path); ok {
		return v.(uint32), true
	}
	if size, ok := lookupBolt(m.db, path); ok {
		m.hot.Set(path, size, cache.DefaultExpiration)
		return size, true
	}
	for _, fb := range m.fallbacks {
		if size, ok := lookupBolt(fb, path); ok {
			return size, true
		}
	}
	return cInvalidSize, false
}

func lookupBolt(db *bolt.DB, path string) (size uint32, ok bool) {
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sizeTableBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(path))
		if v == nil || len(v) < 4 {
			return nil
		}
		size = binary.LittleEndian.Uint32(v)
		ok = true
		return nil
	})
	if err != nil {
		corelog.Errorf(logTag, "size table lookup %q: %v", path, err)
		return cInvalidSize, false
	}
	return size, ok
}

// Close releases the primary table's file handle.
func (m *ResourceSizeTableManager) Close() error {
	return m.db.Close()
}
