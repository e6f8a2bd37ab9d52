package async

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/watertoon/vkruntime/containers"
	"github.com/watertoon/vkruntime/internal/corelog"
	"github.com/watertoon/vkruntime/internal/result"
	"github.com/watertoon/vkruntime/ukern"
)

const logTag = "async"

type level struct {
	paused  bool
	list    containers.IntrusiveList[*Task]
	cleared *sync.Cond
}

// QueueOptions configures a Queue at construction. Typical deployments
// use 4-8 priority levels.
type QueueOptions struct {
	Name             string
	PriorityLevels   int
	WorkerCount      int
	RequestsPerYield int // SleepThread(0) every Nth task, per worker; 0 disables
}

// Queue is the priority-leveled task queue workers service.
type Queue struct {
	name  string
	mu    sync.Mutex
	sched *ukern.Scheduler

	// wakeWord is a futex-style word workers WaitIfEqual/Wake on while idle
	// or suspended, instead of a plain sync.Cond -- workers are UKern
	// fibers, and the only ways a fiber may legally give back its core are
	// the scheduler's own suspension points (WaitIfEqual among them);
	// blocking the goroutine in a bare sync.Cond.Wait never signals
	// suspendSignal, which would wedge that core's dispatcher forever.
	wakeWord uint32

	levels           []level
	allComplete      *sync.Cond
	pending          int
	running          map[*Task]struct{}
	suspended        bool
	exiting          bool
	workers          []*ukern.Fiber
	requestsPerYield int

	metricDepth    *prometheus.GaugeVec
	metricComplete prometheus.Counter
}

// NewQueue creates a queue bound to sched with opt.PriorityLevels levels
// (4 if opt.PriorityLevels is zero or negative) and starts
// opt.WorkerCount dedicated worker fibers.
func NewQueue(sched *ukern.Scheduler, opt QueueOptions) *Queue {
	n := opt.PriorityLevels
	if n <= 0 {
		n = 4
	}
	q := &Queue{
		name:             opt.Name,
		sched:            sched,
		levels:           make([]level, n),
		running:          map[*Task]struct{}{},
		requestsPerYield: opt.RequestsPerYield,
		metricDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vkruntime_async_queue_depth",
			Help: "Number of queued tasks per priority level.",
		}, []string{"queue", "priority"}),
		metricComplete: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vkruntime_async_queue_completed_total",
			Help: "Total tasks completed by this queue.",
		}),
	}
	q.allComplete = sync.NewCond(&q.mu)
	for i := range q.levels {
		q.levels[i].cleared = sync.NewCond(&q.mu)
	}
	for i := 0; i < opt.WorkerCount; i++ {
		q.startWorker()
	}
	return q
}

// Collectors exposes this queue's Prometheus metrics for registration.
func (q *Queue) Collectors() []prometheus.Collector {
	return []prometheus.Collector{q.metricDepth, q.metricComplete}
}

func (q *Queue) withLock(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
}

func (q *Queue) startWorker() {
	f, res := q.sched.Create(ukern.CreateOptions{Name: q.name + "-worker", Priority: 50}, q.workerLoop)
	if res.IsFailure() {
		corelog.Errorf(logTag, "queue %q: failed to create worker fiber: %v", q.name, res)
		return
	}
	q.workers = append(q.workers, f)
	q.sched.Start(f)
}

// PushInfo describes a task submission to PushTask.
type PushInfo struct {
	Priority    int32
	Execute     ExecuteFunc
	OnResult    ResultFunc
	FreeExecute CleanupFunc
	UserData    any
	Sync        bool
	Watcher     *Watcher
	Reuse       *Task // supply a task obtained from a TaskAllocator to reuse it
}

// PushTask inserts a task into the queue at its priority, or (if
// info.Sync) runs it inline on the calling goroutine immediately.
func (q *Queue) PushTask(info PushInfo) (*Task, result.Result) {
	if info.Priority < 0 || int(info.Priority) >= len(q.levels) {
		return nil, result.AsyncInvalidPriority
	}
	t := info.Reuse
	if t == nil {
		t = &Task{}
	}
	t.queue = q
	t.priority = info.Priority
	t.Execute = info.Execute
	t.OnResult = info.OnResult
	t.FreeExecute = info.FreeExecute
	t.UserData = info.UserData
	t.watcher = info.Watcher
	t.finishCh = make(chan struct{})
	t.setStatus(StatusQueued)

	if info.Sync {
		q.withLock(func() { q.pending++ })
		res := t.Execute(t)
		q.withLock(func() { q.finishTaskLocked(t, res) })
		return t, res
	}

	q.mu.Lock()
	node := containers.NewNode(t)
	t.node = node
	q.levels[info.Priority].list.PushBack(node)
	q.pending++
	q.metricDepth.WithLabelValues(q.name, priorityLabel(info.Priority)).Inc()
	atomic.AddUint32(&q.wakeWord, 1)
	q.mu.Unlock()
	q.sched.Wake(&q.wakeWord, 1)
	return t, result.Success
}

func priorityLabel(p int32) string {
	return strconv.Itoa(int(p))
}

// acquireNextLocked scans priority levels low-to-high for the first
// unpaused, non-empty level and pops its head task.
func (q *Queue) acquireNextLocked() *Task {
	for i := range q.levels {
		lvl := &q.levels[i]
		if lvl.paused {
			continue
		}
		n := lvl.list.Front()
		if n == nil {
			continue
		}
		lvl.list.Remove(n)
		t := n.Value()
		t.setStatus(StatusAcquired)
		q.running[t] = struct{}{}
		q.metricDepth.WithLabelValues(q.name, priorityLabel(t.priority)).Dec()
		return t
	}
	return nil
}

// finishTaskLocked runs the release-phase hook, signals completion, and
// updates per-level/all-complete events. Caller holds q.mu.
func (q *Queue) finishTaskLocked(t *Task, res result.Result) {
	if t.FreeExecute != nil {
		t.FreeExecute(t)
	}
	if t.OnResult != nil {
		t.OnResult(t, res)
	}
	t.lastResult = res
	t.setStatus(StatusComplete)
	close(t.finishCh)
	delete(q.running, t)
	q.pending--
	q.metricComplete.Inc()
	if q.levels[t.priority].list.Len() == 0 {
		q.levels[t.priority].cleared.Broadcast()
	}
	if q.pending == 0 {
		q.allComplete.Broadcast()
	}
	t.freeToAllocatorLocked()
}

func (q *Queue) workerLoop(self *ukern.Fiber) {
	processed := 0
	for {
		q.mu.Lock()
		for !q.exiting && !q.suspended {
			if t := q.acquireNextLocked(); t != nil {
				q.mu.Unlock()
				res := t.Execute(t)
				q.mu.Lock()
				q.finishTaskLocked(t, res)
				q.mu.Unlock()

				processed++
				if q.requestsPerYield > 0 && processed%q.requestsPerYield == 0 {
					q.sched.Sleep(self, 0)
				}
				q.mu.Lock()
				continue
			}
			break
		}
		if q.exiting {
			q.mu.Unlock()
			return
		}
		snapshot := atomic.LoadUint32(&q.wakeWord)
		q.mu.Unlock()

		// Idle or suspended: park on the scheduler's own futex wait rather
		// than a bare sync.Cond, so the worker actually yields its core back
		// to the dispatcher. WaitIfEqual's check is atomic with the enqueue,
		// so a PushTask/Resume racing the snapshot above just fails the
		// equality check and returns immediately instead of being missed.
		if res := q.sched.WaitIfEqual(self, &q.wakeWord, snapshot, 0); res.IsFailure() && res != result.UKernInvalidWaitAddressValue {
			corelog.Errorf(logTag, "queue %q: worker wait failed: %v", q.name, res)
		}
	}
}

// CancelTask removes t from its queue (if still Queued) and marks it
// Cancelled, running FreeCancel. In-flight tasks are only advisory-flagged
// via RequestCancel.
func (q *Queue) CancelTask(t *Task) result.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.Status() != StatusQueued {
		t.RequestCancel()
		return result.AsyncIncomplete
	}
	q.levels[t.priority].list.Remove(t.node)
	q.pending--
	if q.pending == 0 {
		q.allComplete.Broadcast()
	}
	q.metricDepth.WithLabelValues(q.name, priorityLabel(t.priority)).Dec()
	t.setStatus(StatusCancelled)
	if t.FreeCancel != nil {
		t.FreeCancel(t)
	}
	close(t.finishCh)
	t.freeToAllocatorLocked()
	return result.Success
}

// CancelPriorityLevel cancels every currently queued task at priority p.
func (q *Queue) CancelPriorityLevel(p int32) int {
	q.mu.Lock()
	if int(p) >= len(q.levels) {
		q.mu.Unlock()
		return 0
	}
	var victims []*Task
	lvl := &q.levels[p]
	for n := lvl.list.Front(); n != nil; {
		next := n.Next()
		victims = append(victims, n.Value())
		lvl.list.Remove(n)
		n = next
	}
	q.mu.Unlock()

	for _, t := range victims {
		q.mu.Lock()
		q.pending--
		if q.pending == 0 {
			q.allComplete.Broadcast()
		}
		t.setStatus(StatusCancelled)
		if t.FreeCancel != nil {
			t.FreeCancel(t)
		}
		close(t.finishCh)
		t.freeToAllocatorLocked()
		q.mu.Unlock()
	}
	return len(victims)
}

// CancelThreadPriorityLevel cancels queued tasks at p and additionally
// requests cooperative cancellation of any task currently executing at p.
func (q *Queue) CancelThreadPriorityLevel(p int32) int {
	n := q.CancelPriorityLevel(p)
	q.mu.Lock()
	for t := range q.running {
		if t.priority == p {
			t.RequestCancel()
		}
	}
	q.mu.Unlock()
	return n
}

// PausePriorityLevel prevents workers from acquiring new tasks at p until
// ResumePriorityLevel is called.
func (q *Queue) PausePriorityLevel(p int32) {
	q.withLock(func() { q.levels[p].paused = true })
}

// ResumePriorityLevel re-enables acquisition at p.
func (q *Queue) ResumePriorityLevel(p int32) {
	q.mu.Lock()
	q.levels[p].paused = false
	atomic.AddUint32(&q.wakeWord, 1)
	q.mu.Unlock()
	q.sched.Wake(&q.wakeWord, -1)
}

// ForceCalcSyncOnThread drains every queued task whose priority is <=
// upToPriority, from head to boundary, executing each synchronously on the
// calling goroutine in priority order, the frame-boundary drain used to
// force completion of urgent work before a frame ends.
func (q *Queue) ForceCalcSyncOnThread(upToPriority int32) {
	for p := int32(0); p <= upToPriority && int(p) < len(q.levels); p++ {
		for {
			q.mu.Lock()
			n := q.levels[p].list.Front()
			if n == nil {
				q.mu.Unlock()
				break
			}
			q.levels[p].list.Remove(n)
			t := n.Value()
			t.setStatus(StatusAcquired)
			q.metricDepth.WithLabelValues(q.name, priorityLabel(p)).Dec()
			q.mu.Unlock()

			res := t.Execute(t)

			q.mu.Lock()
			q.finishTaskLocked(t, res)
			q.mu.Unlock()
		}
	}
}

// WaitAllComplete blocks until the queue has no queued or in-flight tasks.
func (q *Queue) WaitAllComplete() {
	q.mu.Lock()
	for q.pending != 0 {
		q.allComplete.Wait()
	}
	q.mu.Unlock()
}

// Suspend stops workers from acquiring further tasks after their current
// one finishes.
func (q *Queue) Suspend() {
	q.withLock(func() { q.suspended = true })
}

// Resume wakes suspended workers.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.suspended = false
	atomic.AddUint32(&q.wakeWord, 1)
	q.mu.Unlock()
	q.sched.Wake(&q.wakeWord, -1)
}

// Exit signals every worker fiber to stop after its current task.
func (q *Queue) Exit() {
	q.mu.Lock()
	q.exiting = true
	atomic.AddUint32(&q.wakeWord, 1)
	q.mu.Unlock()
	q.sched.Wake(&q.wakeWord, -1)
}
