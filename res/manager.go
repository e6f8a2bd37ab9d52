package res

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/watertoon/vkruntime/containers"
	"github.com/watertoon/vkruntime/internal/result"
)

// ResourceUnitManager is one per registered file extension plus a
// default: a path-hash-keyed tree of units, backed by the process-wide
// allocator, plus an LRU free-cache of units whose refcount has dropped
// to zero but which haven't been destroyed yet.
type ResourceUnitManager struct {
	name string

	mu   sync.Mutex
	tree *containers.OrderedTree[uint32, *ResourceUnit]

	alloc     *ResourceUnitAllocator
	freeCache *lru.Cache // path -> *ResourceUnit, evicted LRU-first

	// suppressEvictDestroy is set around a removeFromFreeCache call so the
	// free-cache's onEvict callback (shared by every removal path: Add
	// overflow, RemoveOldest, and a plain Remove) can tell a resurrection
	// removal apart from a real eviction and skip destroying the unit.
	// freeCache serializes all its own operations under one internal lock,
	// so no other removal can race this flag while it's set.
	suppressEvictDestroy int32

	metricUnits     *prometheus.GaugeVec
	metricEvictions prometheus.Counter
	metricLoadFails prometheus.Counter
}

// NewResourceUnitManager creates a manager backed by alloc, with a
// free-cache capable of holding freeCacheCapacity evictable units before
// the oldest is force-destroyed.
func NewResourceUnitManager(name string, alloc *ResourceUnitAllocator, freeCacheCapacity int) *ResourceUnitManager {
	m := &ResourceUnitManager{
		name:  name,
		tree:  containers.NewOrderedTree[uint32, *ResourceUnit](),
		alloc: alloc,
		metricUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vkruntime_res_units",
			Help: "Number of resource units currently held, by status.",
		}, []string{"manager", "status"}),
		metricEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vkruntime_res_evictions_total",
			Help: "Total resource units destroyed by free-cache eviction.",
		}),
		metricLoadFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vkruntime_res_load_failures_total",
			Help: "Total resource loads that ended in UnitFailed.",
		}),
	}
	if freeCacheCapacity <= 0 {
		freeCacheCapacity = 1
	}
	m.freeCache, _ = lru.NewWithEvict(freeCacheCapacity, func(key interface{}, value interface{}) {
		if atomic.LoadInt32(&m.suppressEvictDestroy) == 1 {
			return
		}
		if u, ok := value.(*ResourceUnit); ok {
			m.mu.Lock()
			m.tree.Delete(u.pathHash)
			m.mu.Unlock()
			m.metricEvictions.Inc()
			u.destroy()
		}
	})
	return m
}

// Collectors exposes this manager's Prometheus metrics for registration.
func (m *ResourceUnitManager) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.metricUnits, m.metricEvictions, m.metricLoadFails}
}

// Lookup finds an existing unit for path. Insertions and lookups are
// protected by the manager's lock.
func (m *ResourceUnitManager) Lookup(path string) (*ResourceUnit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.tree.Find(HashPath(path))
	return u, ok
}

// GetOrCreate returns the existing unit for path, or reserves a fresh one
// from the allocator, links it into the tree, and returns created=true.
func (m *ResourceUnitManager) GetOrCreate(path string) (unit *ResourceUnit, created bool, res result.Result) {
	hash := HashPath(path)

	m.mu.Lock()
	if u, ok := m.tree.Find(hash); ok {
		if u.Status() == UnitFailed {
			// A previous load of this path failed; drop the stale unit so
			// this call reserves a fresh one instead of handing back a
			// permanently-failed handle.
			m.tree.Delete(hash)
			m.mu.Unlock()
			u.destroy()
		} else {
			m.mu.Unlock()
			return u, false, result.Success
		}
	} else {
		m.mu.Unlock()
	}

	u, res := m.alloc.alloc()
	if res.IsFailure() {
		return nil, false, res
	}
	u.manager = m
	u.pathHash = hash
	u.path = path
	u.loadDone = make(chan struct{})

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tree.Find(hash); ok {
		// Lost a race with a concurrent GetOrCreate; return u to the
		// allocator and hand back the winner instead.
		u.reset()
		m.alloc.free(u)
		return existing, false, result.Success
	}
	m.tree.Insert(hash, u)
	m.metricUnits.WithLabelValues(m.name, "tracked").Inc()
	return u, true, result.Success
}

// removeFromFreeCache removes u from the LRU free-cache without destroying
// it (called when a lookup resurrects an Evictable unit via Reference).
// Remove fires the same onEvict callback as a capacity-driven eviction, so
// the destroy side of that callback is suppressed for the duration of
// this call.
func (m *ResourceUnitManager) removeFromFreeCache(u *ResourceUnit) {
	atomic.StoreInt32(&m.suppressEvictDestroy, 1)
	m.freeCache.Remove(u.path)
	atomic.StoreInt32(&m.suppressEvictDestroy, 0)
}

// addToFreeCache links u onto the LRU free-cache.
func (m *ResourceUnitManager) addToFreeCache(u *ResourceUnit) {
	m.freeCache.Add(u.path, u)
}

// ClearCacheForAllocate evicts least-recently-used free-cache entries
// until at least n bytes have been freed (or the cache is empty), the
// memory-pressure eviction path. Returns the number of units evicted.
//
// RemoveOldest fires the same onEvict callback a plain Remove does, so the
// callback alone performs the tree-delete and destroy; this loop only
// decides which entry is oldest and tallies the bytes it frees, reading
// the unit's size via Peek before removing it.
func (m *ResourceUnitManager) ClearCacheForAllocate(n int) int {
	evicted := 0
	freed := 0
	for freed < n && m.freeCache.Len() > 0 {
		keys := m.freeCache.Keys()
		if len(keys) == 0 {
			break
		}
		oldest := keys[0]
		value, ok := m.freeCache.Peek(oldest)
		if !ok {
			break
		}
		u, ok := value.(*ResourceUnit)
		if !ok {
			m.freeCache.Remove(oldest)
			continue
		}
		size := len(u.data)
		m.freeCache.Remove(oldest)
		freed += size
		evicted++
	}
	return evicted
}
