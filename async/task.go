// Package async implements the task engine: a priority-leveled work
// queue serviced by UKern fiber workers, plus the dependency job graph
// built on top of it.
package async

import (
	"sync"
	"sync/atomic"

	"github.com/watertoon/vkruntime/containers"
	"github.com/watertoon/vkruntime/internal/result"
)

// Status is a task's lifecycle stage.
type Status int32

const (
	StatusQueued Status = iota
	StatusAcquired
	StatusExecuting
	StatusComplete
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "Queued"
	case StatusAcquired:
		return "Acquired"
	case StatusExecuting:
		return "Executing"
	case StatusComplete:
		return "Complete"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ExecuteFunc is the user work a Task performs off the queue mutex.
type ExecuteFunc func(t *Task) result.Result

// ResultFunc observes a task's outcome, invoked under the queue mutex
// immediately after Execute returns.
type ResultFunc func(t *Task, res result.Result)

// CleanupFunc is a release-phase hook (FreeExecute/FreeCancel), always
// invoked under the queue mutex.
type CleanupFunc func(t *Task)

// Task is one unit of work tracked by a Queue. The zero value is not
// usable; construct via Queue.PushTask or a TaskAllocator.
type Task struct {
	queue    *Queue
	priority int32
	status   int32 // atomic Status

	Execute     ExecuteFunc
	OnResult    ResultFunc
	FreeExecute CleanupFunc
	FreeCancel  CleanupFunc
	UserData    any

	node     *containers.ListNode[*Task]
	finishCh chan struct{}

	watcher   *Watcher
	allocator *TaskAllocator

	cancelRequested int32
	lastResult      result.Result
}

// Priority returns the task's queue priority level.
func (t *Task) Priority() int32 { return t.priority }

// Status returns the task's current lifecycle stage.
func (t *Task) Status() Status { return Status(atomic.LoadInt32(&t.status)) }

func (t *Task) setStatus(s Status) { atomic.StoreInt32(&t.status, int32(s)) }

// RequestCancel sets the cooperative cancellation flag an in-flight Execute
// is expected to poll via Cancelled.
func (t *Task) RequestCancel() { atomic.StoreInt32(&t.cancelRequested, 1) }

// Cancelled reports whether RequestCancel has been called for this task.
func (t *Task) Cancelled() bool { return atomic.LoadInt32(&t.cancelRequested) != 0 }

// Result returns the task's outcome. Valid once Status is Complete or
// Cancelled.
func (t *Task) Result() result.Result { return t.lastResult }

// Wait blocks until the task finishes (Complete or Cancelled).
func (t *Task) Wait() {
	<-t.finishCh
}

// TaskAllocator is a fixed-size pool of reusable tasks, for the common
// load-task case where allocating a fresh *Task per call would churn the
// heap.
type TaskAllocator struct {
	mu       sync.Mutex
	free     []*Task
	capacity int
}

// NewTaskAllocator creates a pool able to hold capacity reusable tasks.
func NewTaskAllocator(capacity int) *TaskAllocator {
	a := &TaskAllocator{capacity: capacity}
	for i := 0; i < capacity; i++ {
		a.free = append(a.free, &Task{allocator: a})
	}
	return a
}

// Alloc pops a reusable task from the pool, or fails if exhausted.
func (a *TaskAllocator) Alloc() (*Task, result.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return nil, result.AsyncAlreadyQueued
	}
	t := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	*t = Task{allocator: a}
	return t, result.Success
}

// freeToAllocatorLocked returns t to the pool iff it has no watcher, or its
// watcher holds no outstanding references, so a watcher never observes a
// freed task. Must be called with the owning queue's mutex held.
func (t *Task) freeToAllocatorLocked() {
	if t.allocator == nil {
		return
	}
	if t.watcher != nil && atomic.LoadInt32(&t.watcher.refs) > 0 {
		return
	}
	t.allocator.mu.Lock()
	t.allocator.free = append(t.allocator.free, t)
	t.allocator.mu.Unlock()
}

// Watcher is a refcounted handle onto a Task.
type Watcher struct {
	refs int32
	task *Task
}

// NewWatcher creates a watcher bound to t with one outstanding reference.
func NewWatcher(t *Task) *Watcher {
	w := &Watcher{task: t, refs: 1}
	t.watcher = w
	return w
}

// Reference adds a reference to the watcher.
func (w *Watcher) Reference() { atomic.AddInt32(&w.refs, 1) }

// ReleaseReference drops a reference. If it was the last one and the task
// has finished, the task is returned to its allocator.
func (w *Watcher) ReleaseReference() {
	if atomic.AddInt32(&w.refs, -1) == 0 {
		if s := w.task.Status(); s == StatusComplete || s == StatusCancelled {
			if w.task.queue != nil {
				w.task.queue.withLock(w.task.freeToAllocatorLocked)
			} else {
				w.task.freeToAllocatorLocked()
			}
		}
	}
}

// WaitForCompletion references the watcher, waits for the task to finish,
// and releases.
func (w *Watcher) WaitForCompletion() result.Result {
	w.Reference()
	defer w.ReleaseReference()
	w.task.Wait()
	return w.task.Result()
}
