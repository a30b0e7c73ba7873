package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// DefaultHistoryLimit caps the in-memory workflow history.
const DefaultHistoryLimit = 100

// MemoryHistory is a bounded in-memory HistoryStore. When full, the oldest
// workflow is dropped.
type MemoryHistory struct {
	mu    sync.RWMutex
	items []*Workflow // Oldest first.
	limit int
	total int
}

// NewMemoryHistory creates a history holding at most limit workflows.
func NewMemoryHistory(limit int) *MemoryHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryHistory{limit: limit}
}

func (h *MemoryHistory) SaveWorkflow(_ context.Context, wf *Workflow) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *wf
	h.items = append(h.items, &cp)
	if len(h.items) > h.limit {
		h.items = append([]*Workflow(nil), h.items[len(h.items)-h.limit:]...)
	}
	h.total++
	return nil
}

func (h *MemoryHistory) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, wf := range h.items {
		if wf.ID == id {
			cp := *wf
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
}

func (h *MemoryHistory) ListWorkflows(_ context.Context, limit int) ([]Workflow, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Workflow, 0, n)
	for i := len(h.items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *h.items[i])
	}
	return out, nil
}

// Total returns the number of workflows ever saved.
func (h *MemoryHistory) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

var _ HistoryStore = (*MemoryHistory)(nil)
