// Package mcpserver exposes the orchestrator as Model Context Protocol tools
// so MCP clients can run tasks and workflows over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/orchestrator"
	"github.com/bosco-os/bosco/internal/router"
)

// Executor is the orchestration surface served over MCP.
type Executor interface {
	ExecuteTask(ctx context.Context, task *agent.Task) agent.Outcome
	RunTemplate(ctx context.Context, name string, params map[string]string) (orchestrator.WorkflowOutcome, error)
	Status() orchestrator.Status
}

// Server wraps an MCP server whose tools call into the orchestrator.
type Server struct {
	mcp    *server.MCPServer
	exec   Executor
	router *router.Router
	logger *slog.Logger
}

// New creates an MCP server named "bosco" with the execute_task,
// run_workflow, command, list_templates and status tools registered.
func New(exec Executor, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		exec:   exec,
		router: router.New(exec, logger),
		logger: logger,
	}
	s.mcp = server.NewMCPServer("bosco", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(s.logCalls),
	)

	s.mcp.AddTool(mcp.NewTool("execute_task",
		mcp.WithDescription("Run a single task on the first agent that has the task type as a capability."),
		mcp.WithString("task_type", mcp.Required(), mcp.Description("Capability to route on, e.g. network_scan, docker, web_search.")),
		mcp.WithString("description", mcp.Description("Human-readable task description.")),
		mcp.WithNumber("priority", mcp.Description("1 low, 2 normal, 3 high, 4 critical."), mcp.Min(1), mcp.Max(4)),
		mcp.WithObject("context", mcp.Description("Task parameters such as target or query.")),
	), s.handleExecuteTask)

	s.mcp.AddTool(mcp.NewTool("run_workflow",
		mcp.WithDescription("Run a workflow template such as pentest, research or infra-audit."),
		mcp.WithString("template", mcp.Required(), mcp.Description("Template key or display name.")),
		mcp.WithObject("params", mcp.Description("Template parameters, e.g. {\"target\": \"10.0.0.5\"}.")),
	), s.handleRunWorkflow)

	s.mcp.AddTool(mcp.NewTool("command",
		mcp.WithDescription("Run a free-text command, e.g. \"scan 192.168.1.10\" or \"list containers\"."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The command.")),
	), s.handleCommand)

	s.mcp.AddTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List available workflow templates and their parameters."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListTemplates)

	s.mcp.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report agent states and workflow counts."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleStatus)

	return s
}

// MCPServer returns the underlying server, e.g. for in-process clients.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio serves MCP over in and out until ctx is canceled or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server listening on stdio")
	return stdio.Listen(ctx, in, out)
}

func (s *Server) logCalls(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.logger.InfoContext(ctx, "mcp tool call", slog.String("tool", req.Params.Name))
		return next(ctx, req)
	}
}

// --- Tool handlers ---

func (s *Server) handleExecuteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskType, err := req.RequireString("task_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	taskCtx, _ := args["context"].(map[string]any)
	priority := agent.Priority(req.GetInt("priority", int(agent.PriorityNormal)))

	task := agent.NewTask(req.GetString("description", taskType), taskType, priority, taskCtx)
	out := s.exec.ExecuteTask(ctx, task)
	return result(out, router.RenderOutcome(out), !out.Success)
}

func (s *Server) handleRunWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("template")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	params := stringParams(req.GetArguments()["params"])

	out, err := s.exec.RunTemplate(ctx, name, params)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("workflow could not start", err), nil
	}
	return result(out, router.RenderWorkflow(out), !out.Success)
}

func (s *Server) handleCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.router.Handle(ctx, text)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("command failed", err), nil
	}
	return result(resp, resp.Message, !resp.Success)
}

// TemplateInfo describes a workflow template in list_templates results.
type TemplateInfo struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params,omitempty"`
}

func (s *Server) handleListTemplates(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ts := orchestrator.Templates()
	infos := make([]TemplateInfo, len(ts))
	for i, t := range ts {
		infos[i] = TemplateInfo{Key: t.Key, Name: t.Name, Description: t.Description, Params: t.Params}
	}
	data, err := json.Marshal(infos)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.exec.Status()
	return result(st, router.RenderStatus(st), false)
}

// result returns text for display plus v as structured content.
func result(v any, text string, isError bool) (*mcp.CallToolResult, error) {
	res := mcp.NewToolResultStructured(v, text)
	res.IsError = isError
	return res, nil
}

// stringParams converts a JSON object argument into template parameters.
func stringParams(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
