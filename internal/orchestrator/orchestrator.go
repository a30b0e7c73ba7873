package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/events"
)

// Config tunes the orchestrator.
type Config struct {
	MaxParallel  int // Concurrent tasks in ExecuteParallel. Default: 8.
	HistoryLimit int // Finished workflows kept in memory. Default: 100.
}

func (c Config) maxParallel() int {
	if c.MaxParallel > 0 {
		return c.MaxParallel
	}
	return 8
}

// Orchestrator routes tasks to agents and runs workflows.
type Orchestrator struct {
	registry *agent.Registry
	store    HistoryStore // Optional persistent mirror of history.
	metrics  *Metrics
	tracer   trace.Tracer
	bus      *events.Bus
	logger   *slog.Logger
	config   Config
	now      func() time.Time

	mu      sync.RWMutex
	active  map[string]*run
	history *MemoryHistory
}

// New creates an orchestrator over registry. store, metrics, tracer and bus
// may be nil.
func New(
	registry *agent.Registry,
	store HistoryStore,
	metrics *Metrics,
	tracer trace.Tracer,
	bus *events.Bus,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Orchestrator{
		registry: registry,
		store:    store,
		metrics:  metrics,
		tracer:   tracer,
		bus:      bus,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
		active:   make(map[string]*run),
		history:  NewMemoryHistory(cfg.HistoryLimit),
	}
}

// Registry returns the agent registry.
func (o *Orchestrator) Registry() *agent.Registry { return o.registry }

// RegisterAgent adds an agent to the registry.
func (o *Orchestrator) RegisterAgent(a *agent.Agent) { o.registry.Register(a) }

// ExecuteTask routes task to the first capable agent and runs it. When no
// agent can handle the task, the failure lists the registered agents.
func (o *Orchestrator) ExecuteTask(ctx context.Context, task *agent.Task) agent.Outcome {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute_task",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.type", task.Type),
		))
	defer span.End()

	a := o.registry.FindAgent(task)
	if a == nil {
		names := o.registry.Names()
		o.metrics.routingFailed()
		o.logger.WarnContext(ctx, "no agent for task",
			slog.String("task_id", task.ID),
			slog.String("task_type", task.Type),
			slog.Any("available_agents", names),
		)
		span.SetStatus(codes.Error, "no agent")
		return agent.Outcome{
			Success:         false,
			Error:           fmt.Sprintf("No agent found to handle task type: %s", task.Type),
			TaskID:          task.ID,
			AvailableAgents: names,
		}
	}
	return o.run(ctx, a, task)
}

// ExecuteParallel runs all tasks concurrently and returns their outcomes in
// input order. A panic while executing one task becomes a failed outcome in
// that slot; the other tasks are unaffected.
func (o *Orchestrator) ExecuteParallel(ctx context.Context, tasks []*agent.Task) []agent.Outcome {
	results := make([]agent.Outcome, len(tasks))

	var g errgroup.Group
	g.SetLimit(o.config.maxParallel())
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = o.executeIsolated(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ExecuteSequential runs tasks in order and stops after the first failure.
func (o *Orchestrator) ExecuteSequential(ctx context.Context, tasks []*agent.Task) []agent.Outcome {
	results := make([]agent.Outcome, 0, len(tasks))
	for _, t := range tasks {
		out := o.ExecuteTask(ctx, t)
		results = append(results, out)
		if !out.Success {
			break
		}
	}
	return results
}

func (o *Orchestrator) executeIsolated(ctx context.Context, t *agent.Task) (out agent.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "task panicked in parallel batch",
				slog.String("task_id", t.ID),
				slog.Any("panic", r),
			)
			out = agent.Outcome{Success: false, Error: fmt.Sprint(r), TaskID: t.ID}
		}
	}()
	return o.ExecuteTask(ctx, t)
}

// run executes task on a with tracing, metrics and events.
func (o *Orchestrator) run(ctx context.Context, a *agent.Agent, task *agent.Task) agent.Outcome {
	ctx, span := o.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("agent.id", a.ID()),
			attribute.String("task.id", task.ID),
			attribute.String("task.type", task.Type),
		))
	defer span.End()

	o.bus.Publish(events.Event{
		Type:   events.TaskStarted,
		Source: a.ID(),
		Data: map[string]any{
			"task_id":   task.ID,
			"task_type": task.Type,
			"agent_id":  a.ID(),
		},
	})

	o.metrics.taskStarted()
	start := o.now()
	out := a.Run(ctx, task)
	o.metrics.taskFinished(a.ID(), out.Success, o.now().Sub(start))

	if !out.Success {
		span.SetStatus(codes.Error, out.Error)
	}

	o.bus.Publish(events.Event{
		Type:   events.TaskFinished,
		Source: a.ID(),
		Data: map[string]any{
			"task_id": task.ID,
			"success": out.Success,
			"error":   out.Error,
		},
	})
	return out
}

// Status summarizes agents and workflow counts.
type Status struct {
	Agents             []agent.Snapshot `json:"agents"`
	QueuedTasks        int              `json:"queued_tasks"`
	ActiveWorkflows    int              `json:"active_workflows"`
	CompletedWorkflows int              `json:"completed_workflows"`
}

// Status returns the current orchestrator status.
func (o *Orchestrator) Status() Status {
	reg := o.registry.Status()
	o.mu.RLock()
	active := len(o.active)
	o.mu.RUnlock()
	return Status{
		Agents:             reg.Agents,
		QueuedTasks:        reg.QueuedTasks,
		ActiveWorkflows:    active,
		CompletedWorkflows: o.history.Total(),
	}
}

// Active returns snapshots of running workflows.
func (o *Orchestrator) Active() []*Workflow {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Workflow, 0, len(o.active))
	for _, r := range o.active {
		out = append(out, r.view())
	}
	return out
}

// History returns up to limit finished workflows, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]Workflow, error) {
	if o.store != nil {
		return o.store.ListWorkflows(ctx, limit)
	}
	return o.history.ListWorkflows(ctx, limit)
}

// Workflow returns a running or finished workflow by id.
func (o *Orchestrator) Workflow(ctx context.Context, id string) (*Workflow, error) {
	o.mu.RLock()
	r, ok := o.active[id]
	o.mu.RUnlock()
	if ok {
		return r.view(), nil
	}
	if wf, err := o.history.GetWorkflow(ctx, id); err == nil {
		return wf, nil
	}
	if o.store != nil {
		return o.store.GetWorkflow(ctx, id)
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
}
