// Package router turns free-text commands into tasks or template workflows
// and renders the results as short human-readable messages. It is the thin
// layer the CLI, HTTP API and MCP server use for natural-language input.
package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/orchestrator"
)

// NotRecognized is the message returned for commands no pattern matches.
const NotRecognized = "Command not recognized. Would you like me to search for information instead?"

// Executor is what the router needs from the orchestrator.
type Executor interface {
	ExecuteTask(ctx context.Context, task *agent.Task) agent.Outcome
	RunTemplate(ctx context.Context, name string, params map[string]string) (orchestrator.WorkflowOutcome, error)
	Status() orchestrator.Status
}

// Response is the result of handling one command.
type Response struct {
	Intent   Intent                        `json:"intent"`
	Success  bool                          `json:"success"`
	Message  string                        `json:"message"`
	Outcome  *agent.Outcome                `json:"outcome,omitempty"`
	Workflow *orchestrator.WorkflowOutcome `json:"workflow,omitempty"`
}

// Router parses commands and runs them.
type Router struct {
	exec   Executor
	logger *slog.Logger
}

// New creates a Router. logger may be nil.
func New(exec Executor, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{exec: exec, logger: logger}
}

// Handle parses text and runs the resulting task or workflow. Unknown
// commands and failed tasks are reported in the response; an error is
// returned only when a workflow template cannot be started.
func (r *Router) Handle(ctx context.Context, text string) (Response, error) {
	in := Parse(text)
	r.logger.DebugContext(ctx, "command parsed",
		slog.String("intent", in.Name),
		slog.String("task_type", in.TaskType),
		slog.String("workflow", in.Workflow),
	)

	switch {
	case in.Name == IntentStatus:
		return Response{Intent: in, Success: true, Message: RenderStatus(r.exec.Status())}, nil
	case in.Name == IntentHelp:
		return Response{Intent: in, Success: true, Message: helpText()}, nil
	case in.Workflow != "":
		out, err := r.exec.RunTemplate(ctx, in.Workflow, in.Params)
		if err != nil {
			return Response{Intent: in}, fmt.Errorf("running %s: %w", in.Workflow, err)
		}
		return Response{Intent: in, Success: out.Success, Message: RenderWorkflow(out), Workflow: &out}, nil
	case in.TaskType != "":
		task := agent.NewTask(describe(in), in.TaskType, agent.PriorityNormal, in.Context)
		out := r.exec.ExecuteTask(ctx, task)
		return Response{Intent: in, Success: out.Success, Message: RenderOutcome(out), Outcome: &out}, nil
	default:
		return Response{Intent: in, Message: NotRecognized}, nil
	}
}

func describe(in Intent) string {
	if in.Original != "" {
		return in.Original
	}
	return strings.ReplaceAll(in.TaskType, "_", " ")
}

// RenderOutcome formats a task outcome as a few lines of text.
func RenderOutcome(out agent.Outcome) string {
	var b strings.Builder
	if !out.Success {
		fmt.Fprintf(&b, "Task failed: %s", out.Error)
		if len(out.AvailableAgents) > 0 {
			fmt.Fprintf(&b, "\nAvailable agents: %s", strings.Join(out.AvailableAgents, ", "))
		}
		return b.String()
	}
	fmt.Fprintf(&b, "Task completed by %s", out.Agent)
	writeFields(&b, out.Result)
	return b.String()
}

// RenderWorkflow formats a workflow outcome with one line per step.
func RenderWorkflow(out orchestrator.WorkflowOutcome) string {
	var b strings.Builder
	wf := out.Workflow
	if wf == nil {
		return "Workflow failed: " + out.Error
	}
	if out.Success {
		fmt.Fprintf(&b, "Workflow %s completed", wf.Name)
	} else {
		fmt.Fprintf(&b, "Workflow %s failed: %s", wf.Name, out.Error)
	}
	for i, s := range wf.Steps {
		fmt.Fprintf(&b, "\n  %d. [%s] %s (%s)", i+1, s.Status, s.Description, s.TaskType)
	}
	return b.String()
}

// RenderStatus formats orchestrator status.
func RenderStatus(st orchestrator.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agents: %d  Active workflows: %d  Completed workflows: %d  Queued tasks: %d",
		len(st.Agents), st.ActiveWorkflows, st.CompletedWorkflows, st.QueuedTasks)
	for _, a := range st.Agents {
		fmt.Fprintf(&b, "\n  %s (%s): %s, %d tasks done", a.Name, a.AgentID, a.Status, a.TasksCompleted)
	}
	return b.String()
}

// writeFields appends scalar result fields in key order. Nested values are
// summarized by size.
func writeFields(b *strings.Builder, result map[string]any) {
	for _, k := range slices.Sorted(maps.Keys(result)) {
		switch v := result[k].(type) {
		case nil:
		case string:
			if v == "" {
				continue
			}
			if i := strings.IndexByte(v, '\n'); i >= 0 {
				v = v[:i] + " ..."
			}
			fmt.Fprintf(b, "\n  %s: %s", k, v)
		case []any:
			fmt.Fprintf(b, "\n  %s: %d items", k, len(v))
		case []string:
			fmt.Fprintf(b, "\n  %s: %s", k, strings.Join(v, ", "))
		case []map[string]any:
			fmt.Fprintf(b, "\n  %s: %d items", k, len(v))
		case map[string]any:
			fmt.Fprintf(b, "\n  %s: %d fields", k, len(v))
		default:
			fmt.Fprintf(b, "\n  %s: %v", k, v)
		}
	}
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Examples:")
	for _, ex := range []string{
		"scan 192.168.1.10",
		"vulnerability scan example.com",
		"exploits for apache 2.4",
		"security audit",
		"pentest 10.0.0.5",
		"infra audit",
		"list containers",
		"logs for web",
		"check memory",
		"search golang generics",
		"what is a race condition",
		"analyze code for handler",
		"status",
	} {
		b.WriteString("\n  " + ex)
	}
	b.WriteString("\nTemplates:")
	for _, t := range orchestrator.Templates() {
		fmt.Fprintf(&b, "\n  %s: %s", t.Key, t.Description)
	}
	return b.String()
}
