package ukern

import (
	"sync/atomic"

	"github.com/watertoon/vkruntime/internal/result"
)

const waitersBit uint32 = 1 << 31

// Mutex is the single-word arbitration handle: a 32-bit atomic word
// holding the owning fiber's handle, with the top bit marking
// "has waiters". It implements priority inheritance: while a higher
// priority fiber waits on it, the owner's effective priority is raised to
// the minimum of its own and each current waiter's priority, and restored
// on release.
type Mutex struct {
	word    uint32
	sched   *Scheduler
	waiters []*Fiber // priority-ordered, FIFO within priority; guarded by sched.mu
}

// NewMutex creates an unlocked mutex bound to sched.
func NewMutex(sched *Scheduler) *Mutex {
	return &Mutex{sched: sched}
}

// Enter acquires the mutex, blocking the calling fiber if contended.
func (m *Mutex) Enter(f *Fiber) result.Result {
	mine := uint32(f.handle)
	if atomic.CompareAndSwapUint32(&m.word, 0, mine) {
		return result.Success
	}
	for {
		cur := atomic.LoadUint32(&m.word)
		owner := cur &^ waitersBit
		if owner == 0 {
			if atomic.CompareAndSwapUint32(&m.word, cur, mine) {
				return result.Success
			}
			continue
		}
		if !atomic.CompareAndSwapUint32(&m.word, cur, owner|waitersBit) {
			continue
		}
		m.sched.mu.Lock()
		ownerFiber, res := m.sched.handles.lookup(Handle(owner))
		if res.IsFailure() {
			// owner already exited and released without us observing it; retry.
			m.sched.mu.Unlock()
			continue
		}
		m.insertWaiterLocked(f)
		m.applyInheritanceLocked(ownerFiber)
		f.setState(StateWaiting)
		m.sched.mu.Unlock()

		m.sched.parkCurrent(f)

		if atomic.LoadUint32(&m.word)&^waitersBit == mine {
			return result.Success
		}
		// spurious: loop and retry arbitration.
	}
}

func (m *Mutex) insertWaiterLocked(f *Fiber) {
	i := 0
	for ; i < len(m.waiters); i++ {
		if f.Priority() < m.waiters[i].Priority() {
			break
		}
	}
	m.waiters = append(m.waiters, nil)
	copy(m.waiters[i+1:], m.waiters[i:])
	m.waiters[i] = f
}

// applyInheritanceLocked raises owner's effective priority to the best
// (lowest-numbered) priority among this mutex's current waiters.
func (m *Mutex) applyInheritanceLocked(owner *Fiber) {
	best := owner.basePriority
	for _, w := range m.waiters {
		if w.BasePriority() < best {
			best = w.BasePriority()
		}
	}
	if best < owner.Priority() {
		atomic.StoreInt32(&owner.priority, best)
	}
}

// Leave releases the mutex, transferring ownership to the next waiter (by
// priority, FIFO within priority) if any are queued.
func (m *Mutex) Leave(f *Fiber) result.Result {
	mine := uint32(f.handle)
	if atomic.CompareAndSwapUint32(&m.word, mine, 0) {
		return result.Success
	}

	m.sched.mu.Lock()
	next, res := m.leaveLocked(f)
	m.sched.mu.Unlock()
	if res.IsFailure() {
		return res
	}
	if next != nil {
		m.sched.wake(next, result.Success)
	}
	return result.Success
}

// leaveLocked performs the release bookkeeping assuming the caller already
// holds the scheduler lock -- used by WaitKey so a condvar wait's mutex
// release and wait-bucket enqueue happen as one critical section. It
// returns the waiter (if any) promoted to ownership; the caller must wake
// it only after releasing the scheduler lock.
func (m *Mutex) leaveLocked(f *Fiber) (*Fiber, result.Result) {
	mine := uint32(f.handle)
	cur := atomic.LoadUint32(&m.word)
	if cur&^waitersBit != mine {
		return nil, result.New(result.ModuleUKern, 97) // released by non-owner: programmer error
	}
	atomic.StoreInt32(&f.priority, f.basePriority)

	var next *Fiber
	if len(m.waiters) > 0 {
		next = m.waiters[0]
		m.waiters = m.waiters[1:]
	}
	var newWord uint32
	if next != nil {
		newWord = uint32(next.handle)
		if len(m.waiters) > 0 {
			newWord |= waitersBit
		}
	}
	atomic.StoreUint32(&m.word, newWord)
	return next, result.Success
}

// IsLocked reports whether the mutex is currently held.
func (m *Mutex) IsLocked() bool {
	return atomic.LoadUint32(&m.word)&^waitersBit != 0
}
