// Package ukern implements a cooperative, priority-scheduled user-mode
// fiber kernel: M:N fibers hosted on per-core worker goroutines,
// futex-style wait/wake keyed on user-space addresses, and a
// priority-inheriting mutex and condition variable built on top.
//
// A "core" here is a dedicated Go goroutine acting as the host OS worker
// thread; a "fiber" is a Go goroutine whose execution is gated by the
// Scheduler so that only one fiber per core is ever logically Running,
// giving cooperative, non-preemptive semantics without hand-rolled stack
// switching.
package ukern

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/watertoon/vkruntime/internal/corelog"
	"github.com/watertoon/vkruntime/internal/result"
	"github.com/watertoon/vkruntime/tick"
)

const logTag = "ukern"

type coreState struct {
	id      int32
	rq      *runQueue
	cond    *sync.Cond
	current *Fiber
}

// Scheduler owns the handle table, the per-core run queues, and the
// address-keyed wait table. The scheduler lock (mu) is the single
// process-wide critical section; it is held only for
// run-queue/wait-table/handle-table bookkeeping, never across a fiber
// body or user callback.
type Scheduler struct {
	mu      sync.Mutex
	cores   []*coreState
	handles *handleTable
	tickSrc *tick.Source
	seq     uint64
	waiters map[uintptr][]*Fiber
}

// InitOptions configures the scheduler at init.
type InitOptions struct {
	CoreCount       int
	MaxFiberCount   uint32
	DefaultPriority int32
}

// NewScheduler creates and starts a scheduler with one dispatcher goroutine
// per selected core.
func NewScheduler(opt InitOptions) *Scheduler {
	if opt.CoreCount <= 0 {
		opt.CoreCount = 1
	}
	s := &Scheduler{
		handles: newHandleTable(opt.MaxFiberCount),
		tickSrc: tick.NewSource(),
		waiters: make(map[uintptr][]*Fiber),
	}
	s.cores = make([]*coreState, opt.CoreCount)
	for i := range s.cores {
		cs := &coreState{id: int32(i), rq: newRunQueue()}
		cs.cond = sync.NewCond(&s.mu)
		s.cores[i] = cs
		go s.runCore(cs)
	}
	corelog.Infof(logTag, "scheduler started with %d core(s)", opt.CoreCount)
	return s
}

// CoreCount returns the number of dispatcher cores.
func (s *Scheduler) CoreCount() int { return len(s.cores) }

func (s *Scheduler) pickCore(opt CreateOptions) int32 {
	if opt.Pinned {
		return opt.PinnedCore % int32(len(s.cores))
	}
	mask := opt.AllowedCoreMask
	if mask == 0 {
		return int32(atomic.AddUint64(&s.seq, 0)) % int32(len(s.cores))
	}
	n := int32(len(s.cores))
	start := int32(atomic.AddUint64(&s.seq, 1)) % n
	for i := int32(0); i < n; i++ {
		c := (start + i) % n
		if mask&(1<<uint(c)) != 0 {
			return c
		}
	}
	return 0
}

// Create allocates a fiber in the allocated-but-not-runnable state. It
// does not become schedulable until Start is called.
func (s *Scheduler) Create(opt CreateOptions, entry EntryFunc) (*Fiber, result.Result) {
	f := &Fiber{
		sched:           s,
		Name:            opt.Name,
		priority:        opt.Priority,
		basePriority:    opt.Priority,
		allowedCoreMask: opt.AllowedCoreMask,
		pinned:          opt.Pinned,
		entry:           entry,
		runSignal:       make(chan struct{}),
		suspendSignal:   make(chan struct{}),
		doneCh:          make(chan struct{}),
		deadline:        tick.NoTimeout,
	}
	f.core = s.pickCore(opt)
	f.setState(StateUnscheduled)
	atomic.StoreInt32(&f.activity, int32(ActivitySuspended))

	s.mu.Lock()
	h, res := s.handles.alloc(f)
	s.mu.Unlock()
	if res.IsFailure() {
		return nil, res
	}
	f.handle = h
	go s.fiberMain(f)
	return f, result.Success
}

func (s *Scheduler) fiberMain(f *Fiber) {
	<-f.runSignal
	f.entry(f)
	s.finishExit(f)
}

func (s *Scheduler) finishExit(f *Fiber) {
	s.mu.Lock()
	f.setState(StateExiting)
	s.handles.release(f.handle)
	core := s.cores[f.core]
	core.current = nil
	s.mu.Unlock()
	atomic.StoreInt32(&f.exited, 1)
	close(f.doneCh)
	f.suspendSignal <- struct{}{}
}

// Start moves a fiber Unscheduled -> Scheduled and makes it eligible for
// dispatch.
func (s *Scheduler) Start(f *Fiber) result.Result {
	s.mu.Lock()
	if f.State() != StateUnscheduled {
		s.mu.Unlock()
		return result.New(result.ModuleUKern, 99)
	}
	atomic.StoreInt32(&f.activity, int32(ActivitySchedulable))
	f.setState(StateScheduled)
	f.seq = s.nextSeqLocked()
	core := s.cores[f.core]
	core.rq.push(f)
	core.cond.Signal()
	s.mu.Unlock()
	return result.Success
}

func (s *Scheduler) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// runCore is the per-core dispatch loop: pick the highest-priority
// runnable fiber, hand it control, and block until it cooperatively
// suspends or exits.
func (s *Scheduler) runCore(core *coreState) {
	for {
		s.mu.Lock()
		for core.rq.Len() == 0 {
			core.cond.Wait()
		}
		f := core.rq.popHighestPriority()
		f.setState(StateRunning)
		core.current = f
		s.mu.Unlock()

		f.runSignal <- struct{}{}
		<-f.suspendSignal
	}
}

// parkCurrent hands control back to the dispatcher and blocks the calling
// fiber's goroutine until it is rescheduled. Callers must have already
// recorded the new State under s.mu before calling this.
func (s *Scheduler) parkCurrent(f *Fiber) {
	f.suspendSignal <- struct{}{}
	<-f.runSignal
}

// wake transitions a Waiting or Suspended fiber back to Scheduled and
// requeues it on its core, recording res as its LastWaitResult. It reports
// false if the fiber was not in a wakeable state (already woken, running,
// or exited) -- this guards against a timeout firing after an explicit
// Wake already ran, and vice versa.
func (s *Scheduler) wake(f *Fiber, res result.Result) bool {
	s.mu.Lock()
	ok := atomic.CompareAndSwapInt32(&f.state, int32(StateWaiting), int32(StateScheduled)) ||
		atomic.CompareAndSwapInt32(&f.state, int32(StateSuspended), int32(StateScheduled))
	if !ok {
		s.mu.Unlock()
		return false
	}
	f.lastWaitResult = res
	f.seq = s.nextSeqLocked()
	core := s.cores[f.core]
	core.rq.push(f)
	core.cond.Signal()
	s.mu.Unlock()
	return true
}

// Sleep suspends the calling fiber for d. d == 0 yields once to any
// equal-or-higher priority runnable fiber: SleepThread(0) is a yield.
func (s *Scheduler) Sleep(f *Fiber, d time.Duration) result.Result {
	if d <= 0 {
		s.mu.Lock()
		f.setState(StateScheduled)
		f.seq = s.nextSeqLocked()
		core := s.cores[f.core]
		core.rq.push(f)
		core.cond.Signal()
		s.mu.Unlock()
		s.parkCurrent(f)
		return result.Success
	}

	s.mu.Lock()
	f.setState(StateWaiting)
	f.deadline = s.tickSrc.GetAbsoluteTimeToWakeup(d)
	s.mu.Unlock()

	timer := time.AfterFunc(d, func() { s.wake(f, result.UKernTimeout) })
	s.parkCurrent(f)
	timer.Stop()
	return f.lastWaitResult
}

// SuspendThread parks f until a matching Resume call wakes it, with no
// timeout. Used for SuspendThread(self).
func (s *Scheduler) SuspendThread(f *Fiber) result.Result {
	s.mu.Lock()
	atomic.StoreInt32(&f.activity, int32(ActivitySuspended))
	f.setState(StateSuspended)
	s.mu.Unlock()
	s.parkCurrent(f)
	return f.lastWaitResult
}

// Resume wakes a fiber previously parked by SuspendThread.
func (s *Scheduler) Resume(f *Fiber) result.Result {
	atomic.StoreInt32(&f.activity, int32(ActivitySchedulable))
	if s.wake(f, result.Success) {
		return result.Success
	}
	return result.New(result.ModuleUKern, 98)
}

// Join blocks the caller (a plain goroutine, not a fiber) until f exits.
// Intended for test code and top-level orchestration, not for fiber bodies.
func (f *Fiber) Join() {
	<-f.doneCh
}
