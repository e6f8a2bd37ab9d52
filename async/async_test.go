package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/watertoon/vkruntime/internal/result"
	"github.com/watertoon/vkruntime/ukern"
)

func newTestQueue(t *testing.T, levels, workers int) *Queue {
	t.Helper()
	sched := ukern.NewScheduler(ukern.InitOptions{CoreCount: 2, MaxFiberCount: 64})
	return NewQueue(sched, QueueOptions{Name: "test", PriorityLevels: levels, WorkerCount: workers})
}

func TestPushTaskRunsAndSignalsCompletion(t *testing.T) {
	q := newTestQueue(t, 4, 2)
	var ran int32
	task, res := q.PushTask(PushInfo{Priority: 1, Execute: func(tk *Task) result.Result {
		atomic.StoreInt32(&ran, 1)
		return result.Success
	}})
	if res.IsFailure() {
		t.Fatalf("push failed: %v", res)
	}
	select {
	case <-task.finishCh:
	case <-time.After(time.Second):
		t.Fatalf("task never completed")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("task body did not run")
	}
	if task.Status() != StatusComplete {
		t.Fatalf("expected Complete, got %v", task.Status())
	}
}

func TestTasksWithinPriorityRunInFIFOOrder(t *testing.T) {
	q := newTestQueue(t, 4, 1) // single worker: strict serialization within a level
	var mu sync.Mutex
	var order []int
	done := make(chan struct{}, 5)

	for i := 0; i < 5; i++ {
		i := i
		q.PushTask(PushInfo{Priority: 2, Execute: func(tk *Task) result.Result {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			done <- struct{}{}
			return result.Success
		}})
	}

	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("tasks never completed")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order 0..4, got %v", order)
		}
	}
}

func TestCancelTaskRemovesQueuedTask(t *testing.T) {
	q := newTestQueue(t, 4, 0) // no workers: tasks stay Queued
	task, _ := q.PushTask(PushInfo{Priority: 0, Execute: func(tk *Task) result.Result { return result.Success }})
	if res := q.CancelTask(task); res.IsFailure() {
		t.Fatalf("cancel failed: %v", res)
	}
	if task.Status() != StatusCancelled {
		t.Fatalf("expected Cancelled, got %v", task.Status())
	}
}

func TestWatcherWaitForCompletionObservesCompletedReusedTask(t *testing.T) {
	q := newTestQueue(t, 4, 1)
	alloc := NewTaskAllocator(2)
	reusable, res := alloc.Alloc()
	if res.IsFailure() {
		t.Fatalf("alloc failed: %v", res)
	}
	w := NewWatcher(reusable)

	task, _ := q.PushTask(PushInfo{Priority: 0, Reuse: reusable, Execute: func(tk *Task) result.Result {
		return result.Success
	}, Watcher: w})

	outcome := w.WaitForCompletion()
	if outcome.IsFailure() {
		t.Fatalf("wait for completion: %v", outcome)
	}
	if task.Status() != StatusComplete {
		t.Fatalf("expected Complete, got %v", task.Status())
	}
}

func TestForceCalcSyncOnThreadDrainsQueuedTasksInPriorityOrder(t *testing.T) {
	q := newTestQueue(t, 4, 0)
	var mu sync.Mutex
	var order []int32
	for _, p := range []int32{2, 0, 1, 0} {
		p := p
		q.PushTask(PushInfo{Priority: p, Execute: func(tk *Task) result.Result {
			mu.Lock()
			order = append(order, tk.Priority())
			mu.Unlock()
			return result.Success
		}})
	}
	q.ForceCalcSyncOnThread(3)
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 4 {
		t.Fatalf("expected all 4 tasks drained, got %d", len(order))
	}
	for i := 1; i < len(order); i++ {
		if order[i-1] > order[i] {
			t.Fatalf("expected non-decreasing priority order, got %v", order)
		}
	}
}

func TestDependencyJobGraphRunsInWaveOrder(t *testing.T) {
	g := NewDependencyJobGraph()
	var mu sync.Mutex
	var finished []string

	record := func(name string) JobFunc {
		return func(runIndex int) result.Result {
			mu.Lock()
			finished = append(finished, name)
			mu.Unlock()
			return result.Success
		}
	}

	a := g.RegisterJob(JobOptions{Run: record("a")})
	b := g.RegisterJob(JobOptions{Run: record("b")})
	c := g.RegisterJob(JobOptions{Run: record("c")})
	g.RegisterDependency(a, c)
	g.RegisterDependency(b, c)

	mgr := NewDependencyJobThreadManager(4, false)
	if res := mgr.SubmitGraph(context.Background(), g); res.IsFailure() {
		t.Fatalf("submit graph: %v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(finished) != 3 || finished[2] != "c" {
		t.Fatalf("expected c to finish last, got %v", finished)
	}
}

func TestDependencyJobGraphMultiRunCompleteOnce(t *testing.T) {
	g := NewDependencyJobGraph()
	var runs int32
	g.RegisterJob(JobOptions{
		MultiRunCount:          3,
		IsMultiRunCompleteOnce: true,
		Run: func(runIndex int) result.Result {
			atomic.AddInt32(&runs, 1)
			return result.Success
		},
	})
	mgr := NewDependencyJobThreadManager(1, false)
	if res := mgr.SubmitGraph(context.Background(), g); res.IsFailure() {
		t.Fatalf("submit graph: %v", res)
	}
	if atomic.LoadInt32(&runs) != 3 {
		t.Fatalf("expected all 3 runs to execute, got %d", runs)
	}
}
