package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks in the registry queue. Higher values run first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// String returns the lower-case priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "priority(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParsePriority accepts a priority name ("high") or ordinal ("3").
// An empty string yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < int(PriorityLow) || n > int(PriorityCritical) {
		return 0, fmt.Errorf("invalid priority %q", s)
	}
	return Priority(n), nil
}

// TaskStatus is the execution status of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskThinking  TaskStatus = "thinking"
	TaskActing    TaskStatus = "acting"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Callback is invoked with the result of a successfully completed task.
type Callback func(ctx context.Context, result map[string]any) error

// Task is a single unit of work routed to an agent.
// Execution fields are mutated in place by the agent that runs it.
type Task struct {
	ID          string
	Description string
	Type        string         // Matched against agent capabilities.
	Priority    Priority       // Queue ordering.
	Context     map[string]any // Input parameters and accumulated workflow state.
	Callback    Callback       // Optional; called after success.

	Status      TaskStatus
	Result      map[string]any // Set on success.
	Error       string         // Set on failure.
	CreatedAt   time.Time
	CompletedAt *time.Time
	AgentID     string // Agent that ran (or rejected) the task.
}

// NewTask creates a pending task with a fresh id, created now.
func NewTask(description, taskType string, priority Priority, taskCtx map[string]any) *Task {
	return NewTaskAt(time.Now(), description, taskType, priority, taskCtx)
}

// NewTaskAt is NewTask with an explicit creation time, for callers that
// carry their own clock.
func NewTaskAt(createdAt time.Time, description, taskType string, priority Priority, taskCtx map[string]any) *Task {
	if priority == 0 {
		priority = PriorityNormal
	}
	if taskCtx == nil {
		taskCtx = make(map[string]any)
	}
	return &Task{
		ID:          newID("task"),
		Description: description,
		Type:        taskType,
		Priority:    priority,
		Context:     taskCtx,
		Status:      TaskPending,
		CreatedAt:   createdAt.UTC(),
	}
}

// WithCallback sets the completion callback and returns the task.
func (t *Task) WithCallback(cb Callback) *Task {
	t.Callback = cb
	return t
}

// TaskRecord is the serializable form of a task.
type TaskRecord struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Type        string         `json:"task_type"`
	Priority    int            `json:"priority"`
	Context     map[string]any `json:"context,omitempty"`
	Status      TaskStatus     `json:"status"`
	Result      map[string]any `json:"result"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   string         `json:"created_at"`
	CompletedAt *string        `json:"completed_at"`
	AgentID     string         `json:"agent_id,omitempty"`
}

// Record returns a plain record of the task for logging and inspection.
func (t *Task) Record() TaskRecord {
	rec := TaskRecord{
		ID:          t.ID,
		Description: t.Description,
		Type:        t.Type,
		Priority:    int(t.Priority),
		Context:     t.Context,
		Status:      t.Status,
		Result:      t.Result,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339Nano),
		AgentID:     t.AgentID,
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format(time.RFC3339Nano)
		rec.CompletedAt = &s
	}
	return rec
}

// newID returns "<prefix>_" followed by eight hex characters.
func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewID is exported for other packages that mint ids in the same format.
func NewID(prefix string) string { return newID(prefix) }
