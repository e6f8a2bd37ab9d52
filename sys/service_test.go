package sys

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/watertoon/vkruntime/ukern"
)

func newTestScheduler() *ukern.Scheduler {
	return ukern.NewScheduler(ukern.InitOptions{CoreCount: 1, MaxFiberCount: 8})
}

func TestServiceEventWaitFromServiceThreadUnblocksOnSignal(t *testing.T) {
	sched := newTestScheduler()
	ev := NewServiceEvent(sched, AutoReset)
	done := make(chan struct{})
	go func() {
		ev.Wait(nil)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("wait returned before signal")
	case <-time.After(20 * time.Millisecond):
	}

	ev.Signal()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("wait never unblocked after signal")
	}
}

func TestServiceEventManualResetStaysSignaledUntilReset(t *testing.T) {
	sched := newTestScheduler()
	ev := NewServiceEvent(sched, ManualReset)
	ev.Signal()

	done := make(chan struct{})
	go func() {
		ev.Wait(nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("manual-reset wait should return immediately while signaled")
	}

	ev.Reset()
	done2 := make(chan struct{})
	go func() {
		ev.Wait(nil)
		close(done2)
	}()
	select {
	case <-done2:
		t.Fatalf("wait returned after reset with no new signal")
	case <-time.After(20 * time.Millisecond):
	}
	ev.Signal()
	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatalf("wait never unblocked after re-signal")
	}
}

func TestServiceEventWaitFromFiberRoutesThroughFutex(t *testing.T) {
	sched := newTestScheduler()
	ev := NewServiceEvent(sched, AutoReset)
	var woke int32

	f, res := sched.Create(ukern.CreateOptions{Name: "waiter"}, func(self *ukern.Fiber) {
		ev.Wait(self)
		atomic.StoreInt32(&woke, 1)
	})
	if res.IsFailure() {
		t.Fatalf("create fiber: %v", res)
	}
	if res := sched.Start(f); res.IsFailure() {
		t.Fatalf("start fiber: %v", res)
	}

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&woke) != 0 {
		t.Fatalf("fiber woke before signal")
	}
	ev.Signal()
	f.Join()
	if atomic.LoadInt32(&woke) != 1 {
		t.Fatalf("fiber never observed the signal")
	}
}

func TestServiceMutexSerializesServiceThreadCallers(t *testing.T) {
	sched := newTestScheduler()
	m := NewServiceMutex(sched)
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Enter(nil)
			counter++
			m.Leave(nil)
		}()
	}
	wg.Wait()
	if counter != 20 {
		t.Fatalf("expected 20 serialized increments, got %d", counter)
	}
}
