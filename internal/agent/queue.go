package agent

import (
	"container/heap"
	"sync"
)

// TaskQueue orders pending tasks by descending priority, first-in first-out
// among tasks of equal priority.
type TaskQueue struct {
	mu    sync.Mutex
	items taskHeap
	seq   uint64
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Push adds a task.
func (q *TaskQueue) Push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.items, queued{task: t, seq: q.seq})
}

// Pop removes and returns the highest-priority task.
func (q *TaskQueue) Pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(queued).task, true
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the queued tasks in the order Pop would return them.
func (q *TaskQueue) Snapshot() []*Task {
	q.mu.Lock()
	cp := make(taskHeap, len(q.items))
	copy(cp, q.items)
	q.mu.Unlock()

	out := make([]*Task, 0, len(cp))
	for len(cp) > 0 {
		out = append(out, heap.Pop(&cp).(queued).task)
	}
	return out
}

type queued struct {
	task *Task
	seq  uint64
}

type taskHeap []queued

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
