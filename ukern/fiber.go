package ukern

import (
	"sync/atomic"

	"github.com/watertoon/vkruntime/internal/result"
	"github.com/watertoon/vkruntime/tick"
)

// Activity is the externally requested run/suspend level of a fiber,
// independent of its internal scheduling State.
type Activity int32

const (
	ActivitySuspended Activity = iota
	ActivitySchedulable
)

// State is a fiber's position in the scheduling state machine.
type State int32

const (
	StateUnscheduled State = iota
	StateScheduled
	StateScheduledLocal
	StateRunning
	StateExiting
	StateWaiting
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateUnscheduled:
		return "Unscheduled"
	case StateScheduled:
		return "Scheduled"
	case StateScheduledLocal:
		return "ScheduledLocal"
	case StateRunning:
		return "Running"
	case StateExiting:
		return "Exiting"
	case StateWaiting:
		return "Waiting"
	case StateSuspended:
		return "Suspended"
	default:
		return "Invalid"
	}
}

// EntryFunc is the user body of a fiber. self lets the body call back into
// suspension points (Sleep, WaitOnAddress, ...).
type EntryFunc func(self *Fiber)

// Fiber is a cooperatively scheduled unit of execution hosted on a Go
// goroutine, gated by the Scheduler so at most one fiber per core is
// logically Running at a time.
type Fiber struct {
	sched *Scheduler

	Name string

	handle Handle

	priority     int32 // effective, lower number == higher priority
	basePriority int32 // restored when priority inheritance is released

	core            int32
	allowedCoreMask uint64
	pinned          bool

	state    int32 // atomic State
	activity int32 // atomic Activity

	waitKey        uintptr
	deadline       tick.Tick
	lastWaitResult result.Result

	entry EntryFunc

	heapIndex int // position bookkeeping for the per-core run queue

	seq uint64 // monotonic sequence for FIFO-within-priority tiebreak

	runSignal     chan struct{}
	suspendSignal chan struct{}
	doneCh        chan struct{}

	exited int32
}

// Handle returns the fiber's stable identity.
func (f *Fiber) Handle() Handle { return f.handle }

// Priority returns the fiber's current *effective* priority (post
// inheritance).
func (f *Fiber) Priority() int32 { return atomic.LoadInt32(&f.priority) }

// BasePriority returns the fiber's un-inherited priority.
func (f *Fiber) BasePriority() int32 { return f.basePriority }

// State returns the fiber's current scheduling state.
func (f *Fiber) State() State { return State(atomic.LoadInt32(&f.state)) }

func (f *Fiber) setState(s State) { atomic.StoreInt32(&f.state, int32(s)) }

// Activity returns the fiber's externally requested activity level.
func (f *Fiber) Activity() Activity { return Activity(atomic.LoadInt32(&f.activity)) }

// LastWaitResult returns the Result of the most recently completed
// suspension (Timeout, Success, InvalidWaitAddressValue, ...).
func (f *Fiber) LastWaitResult() result.Result { return f.lastWaitResult }

// CreateOptions configures a new fiber's attributes.
type CreateOptions struct {
	Name            string
	Priority        int32
	AllowedCoreMask uint64 // 0 means "all cores"
	PinnedCore      int32  // only meaningful if Pinned is true
	Pinned          bool
}
