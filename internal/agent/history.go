package agent

import "sync"

// DefaultHistoryLimit caps how many finished tasks an agent keeps.
const DefaultHistoryLimit = 100

// History is a fixed-capacity ring of finished tasks. Once full, the oldest
// task is overwritten.
type History struct {
	mu    sync.RWMutex
	buf   []*Task
	next  int
	full  bool
	total int
}

// NewHistory creates a history holding at most limit tasks.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{buf: make([]*Task, limit)}
}

// Append records a finished task.
func (h *History) Append(t *Task) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = t
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.total++
}

// Tasks returns the retained tasks, oldest first.
func (h *History) Tasks() []*Task {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		out := make([]*Task, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]*Task, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	out = append(out, h.buf[:h.next]...)
	return out
}

// Len returns the number of retained tasks.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// Total returns the number of tasks ever appended, evicted ones included.
func (h *History) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}
