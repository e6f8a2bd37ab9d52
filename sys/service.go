// Package sys implements the service-thread bridge: OS-thread-safe
// variants of the UKern synchronization primitives for code that must
// block on OS-observable events the cooperative scheduler cannot
// see (GPU queue completion, HID message pumps, and similar).
//
// Go has no per-thread identity a library can query, so "is the caller a
// UKern fiber or a raw service thread" -- IsThreadAFiber() in the original
// runtime -- is made an explicit parameter here: every
// operation takes a `self *ukern.Fiber`, nil meaning "the calling goroutine
// is a plain service thread, not a fiber". This is the same explicit-scope
// substitution mem/currentheap.go applies to the current-thread heap.
package sys

import (
	"sync"
	"sync/atomic"

	"github.com/watertoon/vkruntime/internal/result"
	"github.com/watertoon/vkruntime/ukern"
)

// ResetMode selects a ServiceEvent's reset behavior on a successful wait.
type ResetMode int

const (
	AutoReset ResetMode = iota
	ManualReset
)

// ServiceEvent is a dual-path event: Signal always both increments a futex
// word (for fiber waiters, via the cooperative scheduler) and broadcasts a
// condition variable (for raw service-thread waiters); Signal always
// does both.
type ServiceEvent struct {
	sched *ukern.Scheduler
	reset ResetMode

	mu       sync.Mutex
	cond     *sync.Cond
	signaled bool
	word     uint32
}

// NewServiceEvent creates an event bound to sched (used for the fiber wait
// path) with the given reset mode.
func NewServiceEvent(sched *ukern.Scheduler, reset ResetMode) *ServiceEvent {
	e := &ServiceEvent{sched: sched, reset: reset}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Signal sets the event, waking every current waiter (fiber or service
// thread). Under ManualReset the event stays set until Reset is called;
// under AutoReset exactly one waiter observes it set before it clears.
func (e *ServiceEvent) Signal() {
	e.mu.Lock()
	e.signaled = true
	atomic.AddUint32(&e.word, 1)
	e.mu.Unlock()
	e.sched.Wake(&e.word, -1)
	e.cond.Broadcast()
}

// Reset manually clears a ManualReset event.
func (e *ServiceEvent) Reset() {
	e.mu.Lock()
	e.signaled = false
	e.mu.Unlock()
}

// Wait blocks until the event is signaled. self identifies the calling
// fiber, or nil for a raw service-thread caller.
func (e *ServiceEvent) Wait(self *ukern.Fiber) result.Result {
	if self != nil {
		return e.waitAsFiber(self)
	}
	e.mu.Lock()
	for !e.signaled {
		e.cond.Wait()
	}
	if e.reset == AutoReset {
		e.signaled = false
	}
	e.mu.Unlock()
	return result.Success
}

func (e *ServiceEvent) waitAsFiber(self *ukern.Fiber) result.Result {
	for {
		e.mu.Lock()
		if e.signaled {
			if e.reset == AutoReset {
				e.signaled = false
			}
			e.mu.Unlock()
			return result.Success
		}
		snapshot := atomic.LoadUint32(&e.word)
		e.mu.Unlock()

		res := e.sched.WaitIfEqual(self, &e.word, snapshot, 0)
		if res.IsFailure() && res != result.UKernInvalidWaitAddressValue {
			return res
		}
		// either woken by Signal, or the word had already moved since the
		// snapshot (InvalidWaitAddressValue) -- either way, re-check signaled.
	}
}

// ServiceMutex serializes both fiber and raw service-thread callers over a
// single shared word. It trades the cooperative Mutex's priority
// inheritance for the ability to be entered by either caller kind, which
// the service-thread bridge needs but the fiber-only ArbitrateLock path
// does not.
type ServiceMutex struct {
	sched *ukern.Scheduler
	word  uint32

	mu   sync.Mutex
	cond *sync.Cond
}

// NewServiceMutex creates an unlocked ServiceMutex bound to sched.
func NewServiceMutex(sched *ukern.Scheduler) *ServiceMutex {
	m := &ServiceMutex{sched: sched}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Enter acquires the mutex, blocking the caller if contended. self
// identifies the calling fiber, or nil for a raw service-thread caller.
func (m *ServiceMutex) Enter(self *ukern.Fiber) result.Result {
	for {
		if atomic.CompareAndSwapUint32(&m.word, 0, 1) {
			return result.Success
		}
		if self != nil {
			if res := m.sched.WaitIfEqual(self, &m.word, 1, 0); res.IsFailure() && res != result.UKernInvalidWaitAddressValue {
				return res
			}
			continue
		}
		m.mu.Lock()
		for atomic.LoadUint32(&m.word) != 0 {
			m.cond.Wait()
		}
		m.mu.Unlock()
	}
}

// Leave releases the mutex and wakes every waiting caller kind.
func (m *ServiceMutex) Leave(self *ukern.Fiber) result.Result {
	m.mu.Lock()
	atomic.StoreUint32(&m.word, 0)
	m.mu.Unlock()
	m.sched.Wake(&m.word, -1)
	m.cond.Broadcast()
	return result.Success
}

// ServiceThread is a raw OS-thread-equivalent goroutine, used for work that
// must block on OS handles the UKern scheduler cannot observe.
type ServiceThread struct {
	Name string
	done chan struct{}
}

// StartServiceThread runs fn on a new goroutine, outside the UKern
// scheduler's fiber bookkeeping entirely.
func StartServiceThread(name string, fn func()) *ServiceThread {
	t := &ServiceThread{Name: name, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		fn()
	}()
	return t
}

// Join blocks until the service thread's function returns.
func (t *ServiceThread) Join() {
	<-t.done
}
