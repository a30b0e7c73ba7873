package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	defaultMaxOutput  = 1 << 20
	defaultTimeout    = 120 * time.Second
	defaultCPUSeconds = 300
	defaultMemoryMB   = 1024
	defaultPath       = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// ProcessConfig configures ProcessSandbox.
type ProcessConfig struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration // Ceiling for request timeouts. Zero = none.
	DefaultLimits  ResourceLimits
	MaxOutputBytes int64    // Per stream. Default: 1 MB.
	Path           string   // PATH for child processes.
	PassEnv        []string // Host variables copied through, e.g. KUBECONFIG, DOCKER_HOST.
}

// ProcessSandbox runs each command as a child process in its own process
// group. On timeout or cancellation the whole group is killed with SIGKILL.
// The host environment is not inherited apart from PassEnv.
type ProcessSandbox struct {
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	defaultLimits  ResourceLimits
	maxOutput      int64
	path           string
	passEnv        []string
	logger         *slog.Logger
}

// NewProcessSandbox creates a process sandbox.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &ProcessSandbox{
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
		defaultLimits:  cfg.DefaultLimits,
		maxOutput:      cfg.MaxOutputBytes,
		path:           cfg.Path,
		passEnv:        cfg.PassEnv,
		logger:         logger,
	}
	if s.defaultTimeout <= 0 {
		s.defaultTimeout = defaultTimeout
	}
	if s.defaultLimits.MaxCPUSeconds <= 0 {
		s.defaultLimits.MaxCPUSeconds = defaultCPUSeconds
	}
	if s.defaultLimits.MaxMemoryMB <= 0 {
		s.defaultLimits.MaxMemoryMB = defaultMemoryMB
	}
	if s.maxOutput <= 0 {
		s.maxOutput = defaultMaxOutput
	}
	if s.path == "" {
		s.path = defaultPath
	}
	return s
}

// Execute runs req.Command and waits for it to finish.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	if s.maxTimeout > 0 && timeout > s.maxTimeout {
		timeout = s.maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir := req.WorkingDir
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "bosco-run-*")
		if err != nil {
			return nil, fmt.Errorf("creating work dir: %w", err)
		}
		defer func() {
			if err := os.RemoveAll(tmp); err != nil {
				s.logger.Warn("removing work dir failed",
					slog.String("dir", tmp),
					slog.String("error", err.Error()),
				)
			}
		}()
		workDir = tmp
	}

	limits := s.limitsFor(req.Limits)

	// Limits are applied by a wrapper shell; the command itself is passed as
	// positional arguments and never spliced into the script.
	script := fmt.Sprintf("ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		limits.MaxMemoryMB*1024, limits.MaxCPUSeconds)
	args := append([]string{"-c", script, "_"}, req.Command...)

	cmd := exec.CommandContext(ctx, "/bin/sh", args...)
	cmd.Dir = workDir
	cmd.Env = s.environ(workDir, req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &cappedWriter{w: &stdout, left: int(s.maxOutput)}
	cmd.Stderr = &cappedWriter{w: &stderr, left: int(s.maxOutput)}

	s.logger.DebugContext(ctx, "running command",
		slog.Any("command", req.Command),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			s.logger.WarnContext(ctx, "command timed out",
				slog.Any("command", req.Command),
				slog.Duration("timeout", timeout),
			)
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("running %s: %w", req.Command[0], runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	s.logger.DebugContext(ctx, "command finished",
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", elapsed),
	)

	return &ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: elapsed,
	}, nil
}

func (s *ProcessSandbox) limitsFor(req ResourceLimits) ResourceLimits {
	l := s.defaultLimits
	if req.MaxCPUSeconds > 0 {
		l.MaxCPUSeconds = req.MaxCPUSeconds
	}
	if req.MaxMemoryMB > 0 {
		l.MaxMemoryMB = req.MaxMemoryMB
	}
	return l
}

func (s *ProcessSandbox) environ(workDir string, extra map[string]string) []string {
	env := []string{
		"PATH=" + s.path,
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"LANG=C.UTF-8",
		"TERM=dumb",
	}
	for _, k := range s.passEnv {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// cappedWriter discards everything past its byte budget.
type cappedWriter struct {
	w    io.Writer
	left int
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	if c.left <= 0 {
		return len(p), nil
	}
	n := len(p)
	if n > c.left {
		p = p[:c.left]
	}
	written, err := c.w.Write(p)
	c.left -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
