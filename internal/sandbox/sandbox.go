// Package sandbox runs external tools (nmap, docker, kubectl, searchsploit)
// for agents. Commands execute as isolated child processes with a wall-clock
// timeout, a scrubbed environment and capped output.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by a Sandbox when a command exceeds its timeout.
var ErrTimeout = errors.New("execution timed out")

// Sandbox executes a command in an isolated environment.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	Command    []string          // Program and arguments.
	WorkingDir string            // Empty = fresh temp dir.
	Env        map[string]string // Added to the scrubbed base environment.
	Timeout    time.Duration     // Zero = sandbox default.
	Limits     ResourceLimits    // Zero fields = sandbox defaults.
}

// ResourceLimits constrains the child process.
type ResourceLimits struct {
	MaxCPUSeconds int // ulimit -t
	MaxMemoryMB   int // ulimit -v
}

// ExecutionResult captures a finished command.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ToolResult is what agents see from a tool invocation. A command that runs
// but exits non-zero, cannot start, or times out is an unsuccessful result,
// not a Go error.
type ToolResult struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	ReturnCode int    `json:"returncode"`
}

// Runner runs a shell command line with a timeout.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) ToolResult
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, command string, timeout time.Duration) ToolResult

func (f RunnerFunc) Run(ctx context.Context, command string, timeout time.Duration) ToolResult {
	return f(ctx, command, timeout)
}
