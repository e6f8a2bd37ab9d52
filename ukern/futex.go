package ukern

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/watertoon/vkruntime/internal/result"
)

// addrKey turns a user-space 32-bit word's address into a stable wait-table
// key, for the address-keyed futex model.
func addrKey(addr *uint32) uintptr {
	return uintptr(unsafe.Pointer(addr))
}

// enqueueWaiterLocked adds f to the wait bucket for addr. Caller holds s.mu.
func (s *Scheduler) enqueueWaiterLocked(addr *uint32, f *Fiber) {
	key := addrKey(addr)
	s.waiters[key] = append(s.waiters[key], f)
}

func (s *Scheduler) removeWaiterLocked(addr *uint32, f *Fiber) {
	key := addrKey(addr)
	list := s.waiters[key]
	for i, w := range list {
		if w == f {
			s.waiters[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.waiters[key]) == 0 {
		delete(s.waiters, key)
	}
}

// WaitIfEqual atomically verifies *addr == expected, then enqueues the
// caller on addr's wait bucket and suspends. The check is made atomic
// with the enqueue by holding the scheduler lock across both.
func (s *Scheduler) WaitIfEqual(f *Fiber, addr *uint32, expected uint32, timeout time.Duration) result.Result {
	s.mu.Lock()
	if atomic.LoadUint32(addr) != expected {
		s.mu.Unlock()
		return result.UKernInvalidWaitAddressValue
	}
	f.setState(StateWaiting)
	s.enqueueWaiterLocked(addr, f)
	s.mu.Unlock()

	return s.parkWithTimeout(f, addr, timeout)
}

// WaitIfLessThan atomically verifies *addr < expected, optionally
// decrements *addr, then enqueues and suspends.
func (s *Scheduler) WaitIfLessThan(f *Fiber, addr *uint32, expected uint32, timeout time.Duration, decrement bool) result.Result {
	s.mu.Lock()
	if atomic.LoadUint32(addr) >= expected {
		s.mu.Unlock()
		return result.UKernInvalidWaitAddressValue
	}
	if decrement {
		atomic.AddUint32(addr, ^uint32(0)) // -1
	}
	f.setState(StateWaiting)
	s.enqueueWaiterLocked(addr, f)
	s.mu.Unlock()

	return s.parkWithTimeout(f, addr, timeout)
}

func (s *Scheduler) parkWithTimeout(f *Fiber, addr *uint32, timeout time.Duration) result.Result {
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			s.mu.Lock()
			s.removeWaiterLocked(addr, f)
			s.mu.Unlock()
			s.wake(f, result.UKernTimeout)
		})
	}
	s.parkCurrent(f)
	if timer != nil {
		timer.Stop()
	}
	return f.lastWaitResult
}

// Wake unblocks up to count fibers waiting on addr (count == -1 wakes
// all), FIFO within the bucket.
func (s *Scheduler) Wake(addr *uint32, count int) int {
	s.mu.Lock()
	key := addrKey(addr)
	list := s.waiters[key]
	n := len(list)
	if count >= 0 && count < n {
		n = count
	}
	woken := list[:n]
	remaining := append([]*Fiber{}, list[n:]...)
	if len(remaining) == 0 {
		delete(s.waiters, key)
	} else {
		s.waiters[key] = remaining
	}
	s.mu.Unlock()

	for _, f := range woken {
		s.wake(f, result.Success)
	}
	return len(woken)
}

// WakeIncrementIfEqual increments *addr iff it currently equals value, then
// wakes up to count waiters.
func (s *Scheduler) WakeIncrementIfEqual(addr *uint32, value uint32, count int) int {
	if !atomic.CompareAndSwapUint32(addr, value, value+1) {
		return 0
	}
	return s.Wake(addr, count)
}

// WakeModifyByWaiterCount wakes up to count waiters and, if *addr == value,
// sets *addr to the number of waiters still left afterward.
func (s *Scheduler) WakeModifyByWaiterCount(addr *uint32, value uint32, count int) int {
	s.mu.Lock()
	key := addrKey(addr)
	total := len(s.waiters[key])
	matches := atomic.LoadUint32(addr) == value
	s.mu.Unlock()

	woken := s.Wake(addr, count)
	if matches {
		remaining := total - woken
		if remaining < 0 {
			remaining = 0
		}
		atomic.StoreUint32(addr, uint32(remaining))
	}
	return woken
}
