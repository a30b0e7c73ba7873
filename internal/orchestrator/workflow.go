package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/events"
)

func stepID(i int) string { return fmt.Sprintf("step_%d", i) }

// RunWorkflow executes steps in order, threading a shared context through
// them. Each successful step merges its result into the shared context and
// the next step sees it under PreviousResultKey. A failed critical step
// aborts the workflow; a failed non-critical step is recorded and skipped.
//
// Failures are returned in the outcome, never as a panic. Whatever the exit
// path, the workflow ends up in history and out of the active set.
func (o *Orchestrator) RunWorkflow(ctx context.Context, name string, steps []Step, initial map[string]any) WorkflowOutcome {
	return o.runWorkflow(ctx, name, "", steps, initial)
}

func (o *Orchestrator) runWorkflow(ctx context.Context, name, description string, steps []Step, initial map[string]any) (out WorkflowOutcome) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.workflow",
		trace.WithAttributes(
			attribute.String("workflow.name", name),
			attribute.Int("workflow.steps", len(steps)),
		))
	defer span.End()

	r := newRun(name, description, steps, o.now())
	log := o.logger.With(slog.String("workflow_id", r.id), slog.String("workflow", name))

	o.mu.Lock()
	o.active[r.id] = r
	o.mu.Unlock()
	r.setState(WorkflowRunning)
	o.metrics.workflowStarted()

	o.bus.Publish(events.Event{
		Type:   events.WorkflowStarted,
		Source: r.id,
		Data:   map[string]any{"workflow_id": r.id, "name": name, "steps": len(steps)},
	})
	log.InfoContext(ctx, "workflow started", slog.Int("steps", len(steps)))

	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprint(rec)
			log.ErrorContext(ctx, "workflow panicked", slog.Any("panic", rec))
			r.fail(msg, o.now())
			out = WorkflowOutcome{Success: false, Error: msg, Workflow: r.view()}
		}
		o.finish(ctx, r, span)
	}()

	shared := make(map[string]any, len(initial))
	maps.Copy(shared, initial)

	var previous map[string]any
	for i, step := range steps {
		if step.TaskType == "" && step.AgentType == "" {
			msg := fmt.Sprintf("Step %d is malformed: agent_type and task_type are empty", i+1)
			r.fail(msg, o.now())
			return WorkflowOutcome{Success: false, Workflow: r.view(), Error: msg}
		}

		stepCtx := make(map[string]any, len(shared)+len(step.Context)+1)
		maps.Copy(stepCtx, shared)
		maps.Copy(stepCtx, step.Context)
		if i > 0 && previous != nil {
			stepCtx[PreviousResultKey] = previous
		}

		task := agent.NewTaskAt(o.now(), step.Description, step.TaskType, step.Priority, stepCtx)

		a := o.resolve(step)
		if a == nil {
			msg := fmt.Sprintf("No agent found for step %d: %s", i+1, step.AgentType)
			log.WarnContext(ctx, "workflow aborted", slog.String("reason", msg))
			r.fail(msg, o.now())
			return WorkflowOutcome{Success: false, Workflow: r.view(), Error: msg}
		}

		log.InfoContext(ctx, "executing step",
			slog.Int("step", i+1),
			slog.Int("of", len(steps)),
			slog.String("agent_id", a.ID()),
			slog.String("task_type", step.TaskType),
		)
		res := o.run(ctx, a, task)

		r.record(i, StepResult{StepID: stepID(i), Agent: a.Name(), Result: res})
		o.metrics.stepFinished(res.Success)
		o.bus.Publish(events.Event{
			Type:   events.WorkflowStep,
			Source: r.id,
			Data: map[string]any{
				"workflow_id": r.id,
				"step_id":     stepID(i),
				"agent":       a.Name(),
				"success":     res.Success,
			},
		})

		previous = nil
		if res.Success {
			maps.Copy(shared, res.Result)
			previous = res.Result
			continue
		}

		if step.IsCritical() {
			msg := fmt.Sprintf("Step %d failed: %s", i+1, res.Error)
			log.WarnContext(ctx, "critical step failed", slog.Int("step", i+1), slog.String("error", res.Error))
			r.fail(msg, o.now())
			return WorkflowOutcome{Success: false, Workflow: r.view(), Error: msg}
		}
		log.InfoContext(ctx, "non-critical step failed, continuing",
			slog.Int("step", i+1),
			slog.String("error", res.Error),
		)
	}

	r.complete(o.now())
	wf := r.view()
	return WorkflowOutcome{Success: true, Workflow: wf, Results: wf.Results}
}

// resolve finds the agent for step: by id first, then by capability.
func (o *Orchestrator) resolve(step Step) *agent.Agent {
	if step.AgentType != "" {
		if a, ok := o.registry.Get(step.AgentType); ok {
			return a
		}
	}
	return o.registry.FindAgent(&agent.Task{Type: step.TaskType})
}

// finish moves r from the active set into history.
func (o *Orchestrator) finish(ctx context.Context, r *run, span trace.Span) {
	wf := r.view()

	o.mu.Lock()
	delete(o.active, r.id)
	o.mu.Unlock()

	_ = o.history.SaveWorkflow(ctx, wf)
	if o.store != nil {
		if err := o.store.SaveWorkflow(ctx, wf); err != nil {
			o.logger.ErrorContext(ctx, "failed to persist workflow",
				slog.String("workflow_id", wf.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	elapsed := o.now().Sub(wf.CreatedAt)
	o.metrics.workflowFinished(wf.State, elapsed)
	if wf.State == WorkflowFailed {
		span.SetStatus(codes.Error, wf.Error)
	}

	o.bus.Publish(events.Event{
		Type:   events.WorkflowFinished,
		Source: wf.ID,
		Data: map[string]any{
			"workflow_id": wf.ID,
			"name":        wf.Name,
			"state":       string(wf.State),
			"error":       wf.Error,
		},
	})
	o.logger.InfoContext(ctx, "workflow finished",
		slog.String("workflow_id", wf.ID),
		slog.String("state", string(wf.State)),
		slog.Duration("duration", elapsed),
	)
}
