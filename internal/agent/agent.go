// Package agent defines the task and agent contract, the agent state machine
// and the registry that routes tasks to agents by capability.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Status is the state of an agent's run state machine.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusThinking  Status = "thinking"
	StatusActing    Status = "acting"
	StatusWaiting   Status = "waiting" // Reserved; no run path enters it.
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Handler is the domain-specific part of an agent.
type Handler interface {
	// CanHandle reports whether the handler accepts the task. It must not
	// mutate the task.
	CanHandle(task *Task) bool

	// ExecuteTask performs the work and returns a result mapping.
	ExecuteTask(ctx context.Context, task *Task) (map[string]any, error)
}

// Info describes an agent.
type Info struct {
	ID           string
	Name         string
	Description  string
	Capabilities []string
}

// Options tunes an Agent. Zero values select defaults.
type Options struct {
	HistoryLimit int
	MemoryTTL    time.Duration
	Memory       *Memory          // Shared with the handler when set.
	Clock        func() time.Time // Used for timestamps and memory expiry.
	Logger       *slog.Logger
}

// Agent drives a Handler through the run state machine
// idle -> thinking -> acting -> completed | error.
// Runs on the same Agent are serialized.
type Agent struct {
	info    Info
	handler Handler
	memory  *Memory
	history *History
	now     func() time.Time
	logger  *slog.Logger

	runMu sync.Mutex

	mu      sync.RWMutex
	status  Status
	current *Task
}

// New creates an idle agent.
func New(info Info, h Handler, opts Options) *Agent {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	mem := opts.Memory
	if mem == nil {
		mem = NewMemory(opts.MemoryTTL, opts.Clock)
	}
	return &Agent{
		info:    info,
		handler: h,
		memory:  mem,
		history: NewHistory(opts.HistoryLimit),
		now:     opts.Clock,
		logger:  opts.Logger.With(slog.String("agent_id", info.ID)),
		status:  StatusIdle,
	}
}

func (a *Agent) ID() string          { return a.info.ID }
func (a *Agent) Name() string        { return a.info.Name }
func (a *Agent) Description() string { return a.info.Description }

// Capabilities returns a copy of the declared capability tags.
func (a *Agent) Capabilities() []string { return slices.Clone(a.info.Capabilities) }

// CanHandle delegates to the handler.
func (a *Agent) CanHandle(task *Task) bool { return a.handler.CanHandle(task) }

// Status returns the current state.
func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// CurrentTask returns the task being run, or nil.
func (a *Agent) CurrentTask() *Task {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// History returns finished tasks, oldest first.
func (a *Agent) History() []*Task { return a.history.Tasks() }

// UpdateMemory stores a working-memory entry.
func (a *Agent) UpdateMemory(key string, value any) { a.memory.Set(key, value) }

// GetMemory returns a working-memory entry if it has not expired.
func (a *Agent) GetMemory(key string) (any, bool) { return a.memory.Get(key) }

// ClearMemory drops all working-memory entries.
func (a *Agent) ClearMemory() { a.memory.Clear() }

// Run executes task and reports the outcome. Handler errors and panics are
// returned as failed outcomes. A task the handler rejects is reported without
// being recorded in history.
func (a *Agent) Run(ctx context.Context, task *Task) Outcome {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	task.AgentID = a.info.ID
	task.Status = TaskRunning
	a.set(StatusThinking, task)
	task.Status = TaskThinking

	if !a.handler.CanHandle(task) {
		a.logger.WarnContext(ctx, "task rejected",
			slog.String("task_id", task.ID),
			slog.String("task_type", task.Type),
		)
		return Failed(task.ID, a.info.Name,
			fmt.Sprintf("Agent %s cannot handle task type: %s", a.info.Name, task.Type))
	}

	defer func() {
		a.history.Append(task)
		a.mu.Lock()
		a.current = nil
		a.mu.Unlock()
	}()

	a.set(StatusActing, task)
	task.Status = TaskActing

	start := a.now()
	result, err := safeExecute(ctx, a.handler, task)
	if err != nil {
		failed := a.now().UTC()
		task.Error = err.Error()
		task.Status = TaskFailed
		task.CompletedAt = &failed
		a.set(StatusError, task)
		a.logger.ErrorContext(ctx, "task failed",
			slog.String("task_id", task.ID),
			slog.String("task_type", task.Type),
			slog.String("error", err.Error()),
		)
		return Failed(task.ID, a.info.Name, err.Error())
	}

	done := a.now().UTC()
	task.Result = result
	task.Status = TaskCompleted
	task.CompletedAt = &done
	a.set(StatusCompleted, task)

	a.logger.InfoContext(ctx, "task completed",
		slog.String("task_id", task.ID),
		slog.String("task_type", task.Type),
		slog.Duration("duration", done.Sub(start)),
	)

	if task.Callback != nil {
		a.invokeCallback(ctx, task)
	}

	return Outcome{Success: true, Result: result, Agent: a.info.Name, TaskID: task.ID}
}

// Snapshot is a point-in-time view of an agent for status endpoints.
type Snapshot struct {
	AgentID        string   `json:"agent_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Status         Status   `json:"status"`
	CurrentTask    string   `json:"current_task,omitempty"`
	TasksCompleted int      `json:"tasks_completed"`
	Capabilities   []string `json:"capabilities"`
}

// Snapshot returns the agent's current status.
func (a *Agent) Snapshot() Snapshot {
	a.mu.RLock()
	s := Snapshot{
		AgentID:      a.info.ID,
		Name:         a.info.Name,
		Description:  a.info.Description,
		Status:       a.status,
		Capabilities: slices.Clone(a.info.Capabilities),
	}
	if a.current != nil {
		s.CurrentTask = a.current.ID
	}
	a.mu.RUnlock()
	s.TasksCompleted = a.history.Total()
	return s
}

func (a *Agent) set(status Status, task *Task) {
	a.mu.Lock()
	a.status = status
	a.current = task
	a.mu.Unlock()
}

// invokeCallback calls the task callback. Its failure never changes the outcome.
func (a *Agent) invokeCallback(ctx context.Context, task *Task) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "task callback panicked",
				slog.String("task_id", task.ID),
				slog.Any("panic", r),
			)
		}
	}()
	if err := task.Callback(ctx, task.Result); err != nil {
		a.logger.ErrorContext(ctx, "task callback failed",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}
}

// safeExecute runs the handler, turning a panic into an error so that
// nothing escapes Run.
func safeExecute(ctx context.Context, h Handler, task *Task) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	result, err = h.ExecuteTask(ctx, task)
	if err == nil && result == nil {
		result = map[string]any{}
	}
	return result, err
}
