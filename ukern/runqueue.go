package ukern

import "github.com/aalpar/deheap"

// runQueue is a per-core priority run queue: lower Fiber.priority runs
// first, FIFO within a priority level via the monotonic seq tiebreaker. It
// implements deheap.Interface so Init/Push/Pop give O(log n)
// priority-ordered dispatch instead of a linear scan.
type runQueue struct {
	items []*Fiber
}

func (q *runQueue) Len() int { return len(q.items) }

func (q *runQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q *runQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].heapIndex = i
	q.items[j].heapIndex = j
}

func (q *runQueue) Push(x any) {
	f := x.(*Fiber)
	f.heapIndex = len(q.items)
	q.items = append(q.items, f)
}

func (q *runQueue) Pop() any {
	n := len(q.items)
	f := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	f.heapIndex = -1
	return f
}

func newRunQueue() *runQueue {
	q := &runQueue{}
	deheap.Init(q)
	return q
}

func (q *runQueue) push(f *Fiber) {
	deheap.Push(q, f)
}

func (q *runQueue) popHighestPriority() *Fiber {
	if q.Len() == 0 {
		return nil
	}
	return deheap.Pop(q).(*Fiber)
}

func (q *runQueue) remove(f *Fiber) {
	if f.heapIndex < 0 || f.heapIndex >= len(q.items) || q.items[f.heapIndex] != f {
		return
	}
	deheap.Remove(q, f.heapIndex)
}
