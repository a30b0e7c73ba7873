// Package devops implements the DevOps agent: Docker and Kubernetes
// operations, deployments, backups, host monitoring and log analysis.
package devops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/agents/params"
	"github.com/bosco-os/bosco/internal/sandbox"
)

// ID is the registry id of the DevOps agent.
const ID = "devops_agent"

// Keywords are matched exactly or as substrings of the task type.
var Keywords = agent.KeywordMatcher{
	"docker", "container", "kubernetes", "k8s",
	"deployment", "infrastructure", "ci_cd",
	"backup", "monitoring", "logs", "performance",
}

var capabilities = []string{
	"docker_management",
	"container_operations",
	"image_management",
	"kubernetes_ops",
	"deployment",
	"infrastructure_status",
	"log_analysis",
	"performance_monitoring",
	"backup_operations",
}

var errContainerRequired = errors.New("container name or ID required")

// Config tunes tool invocations.
type Config struct {
	CommandTimeout time.Duration // Default: 60s.
	LongTimeout    time.Duration // Pulls, compose and backups. Default: 5m.
	DefaultLogPath string        // Default: /var/log/syslog.
}

func (c Config) withDefaults() Config {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 60 * time.Second
	}
	if c.LongTimeout <= 0 {
		c.LongTimeout = 5 * time.Minute
	}
	if c.DefaultLogPath == "" {
		c.DefaultLogPath = "/var/log/syslog"
	}
	return c
}

type handler struct {
	runner   sandbox.Runner
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	dispatch *agent.Dispatcher
}

// New creates the DevOps agent.
func New(runner sandbox.Runner, cfg Config, logger *slog.Logger, opts agent.Options) *agent.Agent {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &handler{
		runner: runner,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("agent", ID)),
		now:    time.Now,
	}
	h.dispatch = agent.NewDispatcher(
		agent.Route{Keywords: []string{"docker", "container"}, Handle: h.docker},
		agent.Route{Keywords: []string{"kubernetes", "k8s"}, Handle: h.kubernetes},
		agent.Route{Keywords: []string{"deploy"}, Handle: h.deployment},
		agent.Route{Keywords: []string{"backup"}, Handle: h.backup},
		agent.Route{Keywords: []string{"monitor", "performance"}, Handle: h.monitoring},
		agent.Route{Keywords: []string{"log"}, Handle: h.logs},
		agent.Route{Keywords: []string{"infrastructure"}, Handle: h.infrastructure},
	)
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return agent.New(agent.Info{
		ID:           ID,
		Name:         "DevOps Agent",
		Description:  "Infrastructure management and DevOps automation",
		Capabilities: capabilities,
	}, h, opts)
}

func (h *handler) CanHandle(task *agent.Task) bool { return Keywords.Match(task.Type) }

func (h *handler) ExecuteTask(ctx context.Context, task *agent.Task) (map[string]any, error) {
	h.logger.InfoContext(ctx, "executing devops task",
		slog.String("task_id", task.ID),
		slog.String("task_type", task.Type),
	)
	return h.dispatch.Dispatch(ctx, task)
}

// exec runs command and fails when the tool could not run or exited
// non-zero.
func (h *handler) exec(ctx context.Context, command string, timeout time.Duration) (sandbox.ToolResult, error) {
	res := h.runner.Run(ctx, command, timeout)
	if !res.Success {
		msg := strings.TrimSpace(res.Error)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", res.ReturnCode)
		}
		name, _, _ := strings.Cut(command, " ")
		return res, fmt.Errorf("%s: %s", name, msg)
	}
	return res, nil
}

// --- Docker ---

func (h *handler) docker(ctx context.Context, task *agent.Task) (map[string]any, error) {
	c := task.Context
	switch action := params.String(c, "action", "list"); action {
	case "list", "ps":
		return h.dockerList(ctx, c)
	case "start", "stop":
		return h.dockerContainerAction(ctx, action, c)
	case "remove", "rm":
		return h.dockerRemove(ctx, c)
	case "logs":
		return h.dockerLogs(ctx, c)
	case "stats":
		return h.dockerStats(ctx, c)
	case "images":
		return h.dockerImages(ctx)
	case "pull":
		return h.dockerPull(ctx, c)
	case "run":
		return h.dockerRun(ctx, c)
	case "exec":
		return h.dockerExec(ctx, c)
	case "compose", "up", "down":
		return h.compose(ctx, c)
	default:
		return nil, fmt.Errorf("unknown docker action: %s", action)
	}
}

func (h *handler) dockerList(ctx context.Context, c map[string]any) (map[string]any, error) {
	cmd := "docker ps"
	if params.Bool(c, "all", false) {
		cmd += " -a"
	}
	res, err := h.exec(ctx, cmd+" --format '{{json .}}'", h.cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	containers := params.JSONLines(res.Output)
	running := 0
	for _, ct := range containers {
		if ct["State"] == "running" {
			running++
		}
	}
	return map[string]any{
		"containers": containers,
		"count":      len(containers),
		"running":    running,
	}, nil
}

func (h *handler) dockerContainerAction(ctx context.Context, action string, c map[string]any) (map[string]any, error) {
	container := params.String(c, "container", "")
	if container == "" {
		return nil, errContainerRequired
	}
	res, err := h.exec(ctx, "docker "+action+" "+params.Quote(container), h.cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"action":    action,
		"container": container,
		"output":    strings.TrimSpace(res.Output),
	}, nil
}

func (h *handler) dockerRemove(ctx context.Context, c map[string]any) (map[string]any, error) {
	container := params.String(c, "container", "")
	if container == "" {
		return nil, errContainerRequired
	}
	cmd := "docker rm "
	if params.Bool(c, "force", false) {
		cmd += "-f "
	}
	res, err := h.exec(ctx, cmd+params.Quote(container), h.cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"action":    "remove",
		"container": container,
		"output":    strings.TrimSpace(res.Output),
	}, nil
}

const maxLogBytes = 5000

func (h *handler) dockerLogs(ctx context.Context, c map[string]any) (map[string]any, error) {
	container := params.String(c, "container", "")
	if container == "" {
		return nil, errContainerRequired
	}
	lines := params.Int(c, "lines", 100)
	res, err := h.exec(ctx, fmt.Sprintf("docker logs --tail %d %s 2>&1", lines, params.Quote(container)), h.cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	out := res.Output
	if len(out) > maxLogBytes {
		out = out[len(out)-maxLogBytes:]
	}
	return map[string]any{
		"container": container,
		"lines":     lines,
		"logs":      out,
	}, nil
}

func (h *handler) dockerStats(ctx context.Context, c map[string]any) (map[string]any, error) {
	cmd := "docker stats --no-stream --format '{{json .}}'"
	if container := params.String(c, "container", ""); container != "" {
		cmd = "docker stats " + params.Quote(container) + " --no-stream --format '{{json .}}'"
	}
	res, err := h.exec(ctx, cmd, h.cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"stats":     params.JSONLines(res.Output),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *handler) dockerImages(ctx context.Context) (map[string]any, error) {
	res, err := h.exec(ctx, "docker images --format '{{json .}}'", h.cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	images := params.JSONLines(res.Output)
	return map[string]any{"images": images, "count": len(images)}, nil
}

func (h *handler) dockerPull(ctx context.Context, c map[string]any) (map[string]any, error) {
	image := params.String(c, "image", "")
	if image == "" {
		return nil, errors.New("image name required")
	}
	ref := image + ":" + params.String(c, "tag", "latest")
	res, err := h.exec(ctx, "docker pull "+params.Quote(ref), h.cfg.LongTimeout)
	if err != nil {
		return nil, err
	}
	return map[string]any{"image": ref, "output": res.Output}, nil
}

func (h *handler) dockerRun(ctx context.Context, c map[string]any) (map[string]any, error) {
	image := params.String(c, "image", "")
	if image == "" {
		return nil, errors.New("image name required")
	}
	parts := []string{"docker", "run"}
	if params.Bool(c, "detach", true) {
		parts = append(parts, "-d")
	}
	name := params.String(c, "name", "")
	if name != "" {
		parts = append(parts, "--name", params.Quote(name))
	}
	for _, p := range params.Strings(c, "ports") {
		parts = append(parts, "-p", params.Quote(p))
	}
	env := params.Map(c, "env")
	for _, k := range slices.Sorted(maps.Keys(env)) {
		parts = append(parts, "-e", params.Quote(fmt.Sprintf("%s=%v", k, env[k])))
	}
	for _, v := range params.Strings(c, "volumes") {
		parts = append(parts, "-v", params.Quote(v))
	}
	parts = append(parts, params.Quote(image))

	res, err := h.exec(ctx, strings.Join(parts, " "), h.cfg.LongTimeout)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"action":         "run",
		"image":          image,
		"container_name": name,
		"output":         strings.TrimSpace(res.Output),
	}, nil
}

func (h *handler) dockerExec(ctx context.Context, c map[string]any) (map[string]any, error) {
	container := params.String(c, "container", "")
	if container == "" {
		return nil, errContainerRequired
	}
	command := params.String(c, "command", "")
	if command == "" {
		return nil, errors.New("command required")
	}
	res := h.runner.Run(ctx, "docker exec "+params.Quote(container)+" /bin/sh -c "+params.Quote(command), h.cfg.CommandTimeout)
	return map[string]any{
		"container":  container,
		"command":    command,
		"exit_ok":    res.Success,
		"output":     res.Output,
		"error":      res.Error,
		"returncode": res.ReturnCode,
	}, nil
}

func (h *handler) compose(ctx context.Context, c map[string]any) (map[string]any, error) {
	action := params.String(c, "compose_action", "")
	if action == "" {
		action = params.String(c, "action", "up")
		if action == "compose" {
			action = "up"
		}
	}
	dir := params.String(c, "dir", ".")
	cmd := "docker compose --project-directory " + params.Quote(dir) + " " + params.Quote(action)
	if (action == "up" || action == "start") && params.Bool(c, "detach", true) {
		cmd += " -d"
	}
	res, err := h.exec(ctx, cmd, h.cfg.LongTimeout)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"action":    action,
		"directory": dir,
		"output":    res.Output,
	}, nil
}

// infrastructure summarizes containers, cluster reachability and host load.
func (h *handler) infrastructure(ctx context.Context, _ *agent.Task) (map[string]any, error) {
	out := map[string]any{}
	if docker, err := h.dockerList(ctx, nil); err == nil {
		out["docker"] = docker
	} else {
		out["docker"] = map[string]any{"error": err.Error()}
	}
	k8s := h.runner.Run(ctx, "kubectl cluster-info", h.cfg.CommandTimeout)
	out["kubernetes"] = map[string]any{"connected": k8s.Success}
	sys, err := h.systemStats(ctx)
	if err != nil {
		return nil, err
	}
	out["system"] = sys
	return out, nil
}
