package ukern

import (
	"time"

	"github.com/watertoon/vkruntime/internal/result"
)

// ConditionVariable is the wait-queue key: an opaque word keyed by address
// into the scheduler's wait table, paired with a Mutex the caller must
// hold across WaitKey/SignalKey.
type ConditionVariable struct {
	key   uint32
	sched *Scheduler
}

// NewConditionVariable creates a condvar bound to sched.
func NewConditionVariable(sched *Scheduler) *ConditionVariable {
	return &ConditionVariable{sched: sched}
}

// WaitKey atomically releases lock and enqueues the caller on the condvar's
// wait bucket, then blocks until SignalKey wakes it or timeout elapses (0
// means wait indefinitely). The release and enqueue happen as a single
// critical section under the scheduler lock, so a SignalKey racing the
// release can never fire into an empty bucket. On return, the caller again
// holds lock: once woken it re-enters lock with Enter, blocking there if
// the lock is contended. The move from the condvar to the lock is not
// atomic; the woken fiber is on neither wait list until it calls Enter.
func (c *ConditionVariable) WaitKey(f *Fiber, lock *Mutex, timeout time.Duration) result.Result {
	c.sched.mu.Lock()
	next, res := lock.leaveLocked(f)
	if res.IsFailure() {
		c.sched.mu.Unlock()
		return res
	}
	f.setState(StateWaiting)
	c.sched.enqueueWaiterLocked(&c.key, f)
	c.sched.mu.Unlock()

	if next != nil {
		c.sched.wake(next, result.Success)
	}

	waitRes := c.sched.parkWithTimeout(f, &c.key, timeout)

	lock.Enter(f)
	if waitRes.IsFailure() {
		return waitRes
	}
	return result.Success
}

// SignalKey removes up to count waiters from the condvar's bucket and wakes
// them. It does not acquire the lock for them; each woken waiter re-enters
// the lock itself before its WaitKey returns.
func (c *ConditionVariable) SignalKey(count int) int {
	return c.sched.Wake(&c.key, count)
}
