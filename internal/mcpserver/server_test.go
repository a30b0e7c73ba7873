package mcpserver

import (
	"context"
	"slices"
	"strings"
	"testing"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/orchestrator"
)

type fakeExecutor struct {
	tasks     []*agent.Task
	templates []string
	params    map[string]string
}

func (f *fakeExecutor) ExecuteTask(_ context.Context, task *agent.Task) agent.Outcome {
	f.tasks = append(f.tasks, task)
	if task.Type == "unknown" {
		return agent.Outcome{Error: "No agent available for task type: unknown"}
	}
	return agent.Outcome{Success: true, Agent: "Security Agent", TaskID: task.ID, Result: map[string]any{"target": task.Context["target"]}}
}

func (f *fakeExecutor) RunTemplate(_ context.Context, name string, params map[string]string) (orchestrator.WorkflowOutcome, error) {
	if _, ok := orchestrator.LookupTemplate(name); !ok {
		return orchestrator.WorkflowOutcome{}, orchestrator.ErrUnknownTemplate
	}
	f.templates = append(f.templates, name)
	f.params = params
	return orchestrator.WorkflowOutcome{Success: true, Workflow: &orchestrator.Workflow{ID: "workflow_1", Name: "Penetration Test"}}, nil
}

func (f *fakeExecutor) Status() orchestrator.Status {
	return orchestrator.Status{Agents: []agent.Snapshot{{AgentID: "security_agent", Name: "Security Agent"}}}
}

func newClient(t *testing.T, exec Executor) *mcpclient.Client {
	t.Helper()
	s := New(exec, "test", nil)
	c, err := mcpclient.NewInProcessClient(s.MCPServer())
	if err != nil {
		t.Fatalf("NewInProcessClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "bosco-test", Version: "0.0.1"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c
}

func call(t *testing.T, c *mcpclient.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func text(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// --- Tools ---

func TestListTools(t *testing.T) {
	c := newClient(t, &fakeExecutor{})
	resp, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tool := range resp.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"execute_task", "run_workflow", "command", "list_templates", "status"} {
		if !slices.Contains(names, want) {
			t.Errorf("tool %s not registered: %v", want, names)
		}
	}
}

func TestExecuteTask(t *testing.T) {
	exec := &fakeExecutor{}
	c := newClient(t, exec)

	res := call(t, c, "execute_task", map[string]any{
		"task_type": "network_scan",
		"priority":  3,
		"context":   map[string]any{"target": "10.0.0.1"},
	})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", text(res))
	}
	if !strings.Contains(text(res), "Task completed by Security Agent") {
		t.Errorf("text = %q", text(res))
	}
	if len(exec.tasks) != 1 {
		t.Fatalf("tasks = %d", len(exec.tasks))
	}
	task := exec.tasks[0]
	if task.Priority != agent.PriorityHigh || task.Context["target"] != "10.0.0.1" || task.Description != "network_scan" {
		t.Errorf("task = %+v", task)
	}
}

func TestExecuteTask_Failure(t *testing.T) {
	c := newClient(t, &fakeExecutor{})
	res := call(t, c, "execute_task", map[string]any{"task_type": "unknown"})
	if !res.IsError || !strings.Contains(text(res), "No agent available") {
		t.Errorf("result = %+v", res)
	}

	res = call(t, c, "execute_task", map[string]any{})
	if !res.IsError {
		t.Error("missing task_type should be an error result")
	}
}

func TestRunWorkflow(t *testing.T) {
	exec := &fakeExecutor{}
	c := newClient(t, exec)

	res := call(t, c, "run_workflow", map[string]any{
		"template": "pentest",
		"params":   map[string]any{"target": "10.0.0.5", "ports": 443},
	})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", text(res))
	}
	if len(exec.templates) != 1 || exec.params["target"] != "10.0.0.5" || exec.params["ports"] != "443" {
		t.Errorf("templates = %v params = %v", exec.templates, exec.params)
	}

	res = call(t, c, "run_workflow", map[string]any{"template": "nope"})
	if !res.IsError {
		t.Error("unknown template should be an error result")
	}
}

func TestCommandAndStatus(t *testing.T) {
	exec := &fakeExecutor{}
	c := newClient(t, exec)

	res := call(t, c, "command", map[string]any{"text": "scan 10.0.0.9"})
	if res.IsError || len(exec.tasks) != 1 || exec.tasks[0].Type != "network_scan" {
		t.Errorf("command result = %s tasks = %v", text(res), exec.tasks)
	}

	res = call(t, c, "command", map[string]any{"text": "sing"})
	if !res.IsError {
		t.Error("unrecognized command should be an error result")
	}

	res = call(t, c, "status", nil)
	if res.IsError || !strings.Contains(text(res), "Security Agent (security_agent)") {
		t.Errorf("status = %s", text(res))
	}

	res = call(t, c, "list_templates", nil)
	if !strings.Contains(text(res), `"infra-audit"`) {
		t.Errorf("templates = %s", text(res))
	}
}
