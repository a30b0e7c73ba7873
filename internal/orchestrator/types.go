// Package orchestrator coordinates task execution across registered agents:
// single tasks, parallel and sequential batches, and multi-step workflows
// whose steps share an accumulating context.
package orchestrator

import (
	"sync"
	"time"

	"github.com/bosco-os/bosco/internal/agent"
)

// PreviousResultKey is the context key under which a workflow step receives
// the result of the step immediately before it.
const PreviousResultKey = "previous_result"

// WorkflowState is the lifecycle state of a workflow.
type WorkflowState string

const (
	WorkflowPending   WorkflowState = "pending"
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowPaused    WorkflowState = "paused" // Reserved; never entered.
)

// StepStatus is the state of a single workflow step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step defines one workflow step.
type Step struct {
	AgentType   string         `json:"agent_type" yaml:"agent_type"` // Agent id, or a hint resolved by capability.
	TaskType    string         `json:"task_type" yaml:"task_type"`
	Description string         `json:"description" yaml:"description"`
	Priority    agent.Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	Context     map[string]any `json:"context,omitempty" yaml:"context,omitempty"` // Wins over shared context.
	Critical    *bool          `json:"critical,omitempty" yaml:"critical,omitempty"` // nil = true.
}

// IsCritical reports whether a failure of this step aborts the workflow.
func (s Step) IsCritical() bool {
	return s.Critical == nil || *s.Critical
}

// Bool returns a pointer to b, for Step.Critical.
func Bool(b bool) *bool { return &b }

// StepResult records the outcome of an executed step.
type StepResult struct {
	StepID string        `json:"step_id"`
	Agent  string        `json:"agent"`
	Result agent.Outcome `json:"result"`
}

// StepRecord is the serializable view of a step and its status.
type StepRecord struct {
	ID          string     `json:"id"`
	AgentType   string     `json:"agent_type"`
	TaskType    string     `json:"task_type"`
	Description string     `json:"task_description"`
	Status      StepStatus `json:"status"`
}

// Workflow is a point-in-time view of a workflow run.
type Workflow struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	State       WorkflowState `json:"state"`
	Steps       []StepRecord  `json:"steps"`
	Results     []StepResult  `json:"results,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at"`
}

// WorkflowOutcome is returned by RunWorkflow.
type WorkflowOutcome struct {
	Success  bool         `json:"success"`
	Workflow *Workflow    `json:"workflow,omitempty"`
	Results  []StepResult `json:"results,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// run is the mutable state of an executing workflow. Status readers take
// snapshots through view while the owning goroutine mutates it.
type run struct {
	mu          sync.RWMutex
	id          string
	name        string
	description string
	steps       []StepRecord
	state       WorkflowState
	results     []StepResult
	err         string
	createdAt   time.Time
	completedAt *time.Time
}

func newRun(name, description string, steps []Step, now time.Time) *run {
	recs := make([]StepRecord, len(steps))
	for i, s := range steps {
		recs[i] = StepRecord{
			ID:          stepID(i),
			AgentType:   s.AgentType,
			TaskType:    s.TaskType,
			Description: s.Description,
			Status:      StepPending,
		}
	}
	return &run{
		id:          agent.NewID("workflow"),
		name:        name,
		description: description,
		steps:       recs,
		state:       WorkflowPending,
		createdAt:   now,
	}
}

func (r *run) setState(s WorkflowState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *run) record(i int, res StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	if res.Result.Success {
		r.steps[i].Status = StepCompleted
	} else {
		r.steps[i].Status = StepFailed
	}
}

func (r *run) fail(msg string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = WorkflowFailed
	r.err = msg
	r.completedAt = &now
}

func (r *run) complete(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = WorkflowCompleted
	r.completedAt = &now
}

func (r *run) view() *Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf := &Workflow{
		ID:          r.id,
		Name:        r.name,
		Description: r.description,
		State:       r.state,
		Steps:       append([]StepRecord(nil), r.steps...),
		Results:     append([]StepResult(nil), r.results...),
		Error:       r.err,
		CreatedAt:   r.createdAt,
	}
	if r.completedAt != nil {
		t := *r.completedAt
		wf.CompletedAt = &t
	}
	return wf
}
