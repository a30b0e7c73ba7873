package orchestrator

import (
	"context"
	"errors"
)

// ErrWorkflowNotFound is returned when a workflow id is unknown.
var ErrWorkflowNotFound = errors.New("workflow not found")

// HistoryStore persists finished workflows.
// Implementations: MemoryHistory and the gorm-backed repository in storage.
type HistoryStore interface {
	SaveWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	// ListWorkflows returns up to limit workflows, newest first.
	ListWorkflows(ctx context.Context, limit int) ([]Workflow, error)
}
