package scheduler

import "container/heap"

// dispatchQueue orders eligible tasks waiting for a concurrency slot:
// higher priority first, registration order (FIFO) within a priority.
// Not safe for concurrent use; the TaskManager's lock guards it.
type dispatchQueue struct {
	items taskHeap
}

func newDispatchQueue() *dispatchQueue {
	q := &dispatchQueue{}
	heap.Init(&q.items)
	return q
}

func (q *dispatchQueue) push(t *Task) {
	heap.Push(&q.items, t)
}

// pop removes and returns the best task, or nil when empty.
func (q *dispatchQueue) pop() *Task {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Task)
}

func (q *dispatchQueue) len() int {
	return len(q.items)
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
