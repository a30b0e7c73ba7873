// Package httpapi implements the HTTP API for Bosco.
//
// Security:
//   - API key authentication on /v1 routes (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/observability"
	"github.com/bosco-os/bosco/internal/orchestrator"
	"github.com/bosco-os/bosco/internal/ratelimit"
	"github.com/bosco-os/bosco/internal/router"
	"github.com/bosco-os/bosco/internal/scheduler"
)

const (
	defaultMaxRequestSize = 1 << 20 // 1 MB
	defaultListLimit      = 20
	maxBatchTasks         = 100
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Orchestrator is the orchestration surface the API exposes.
// *orchestrator.Orchestrator implements it.
type Orchestrator interface {
	ExecuteTask(ctx context.Context, task *agent.Task) agent.Outcome
	ExecuteParallel(ctx context.Context, tasks []*agent.Task) []agent.Outcome
	ExecuteSequential(ctx context.Context, tasks []*agent.Task) []agent.Outcome
	RunWorkflow(ctx context.Context, name string, steps []orchestrator.Step, initial map[string]any) orchestrator.WorkflowOutcome
	RunTemplate(ctx context.Context, name string, params map[string]string) (orchestrator.WorkflowOutcome, error)
	Status() orchestrator.Status
	Active() []*orchestrator.Workflow
	History(ctx context.Context, limit int) ([]orchestrator.Workflow, error)
	Workflow(ctx context.Context, id string) (*orchestrator.Workflow, error)
}

// JobRunner exposes scheduled jobs. *scheduler.Scheduler implements it.
type JobRunner interface {
	Jobs() []scheduler.JobStatus
	RunNow(ctx context.Context, name string) error
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string   // e.g., ":8080"
	EnableDocs     bool     // Serve OpenAPI docs.
	APIKeys        []string // Empty disables authentication.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Registry served on MetricsPath.
	MetricsPath     string                          // Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Backs /readyz.
	Metrics         *observability.MetricsCollector // HTTP middleware metrics.
	Tracer          trace.Tracer                    // HTTP middleware spans.
}

func (c Config) maxRequestSize() int64 {
	if c.MaxRequestSize > 0 {
		return c.MaxRequestSize
	}
	return defaultMaxRequestSize
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config Config
	orch   Orchestrator
	router *router.Router
	jobs   JobRunner // nil = job endpoints disabled.
	limit  *ratelimit.Limiter
	logger *slog.Logger
	server *http.Server

	// Streaming support.
	sseEnabled bool

	// Extra handlers mounted on the HTTP mux (e.g., the event stream).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway over orch. Free-text commands go
// through r.
func NewGateway(cfg Config, orch Orchestrator, r *router.Router, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g := &Gateway{
		config: cfg,
		orch:   orch,
		router: r,
		logger: logger,
		okapi:  okapi.New(okapi.WithMaxMultipartMemory(cfg.maxRequestSize())),
	}
	if len(cfg.APIKeys) == 0 {
		logger.Warn("http api authentication disabled: no API keys configured")
	}
	return g
}

// WithJobs enables the scheduled job endpoints.
func (g *Gateway) WithJobs(jobs JobRunner) *Gateway {
	g.jobs = jobs
	return g
}

// WithRateLimiter throttles /v1 requests per authenticated caller.
func (g *Gateway) WithRateLimiter(l *ratelimit.Limiter) *Gateway {
	g.limit = l
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Bosco",
			Version: "v1",
		},
	)
	return g
}

// WithSSE enables the SSE streaming endpoint.
func (g *Gateway) WithSSE(enabled bool) *Gateway {
	g.sseEnabled = enabled
	return g
}

// WithHandler mounts an additional GET handler at pattern, outside the
// authenticated group. The handler is responsible for its own auth.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Handler registers every route and returns the gateway as an http.Handler.
// Start calls it; tests use it directly.
func (g *Gateway) Handler() http.Handler {
	if g.group == nil {
		g.routes()
	}
	return g.okapi
}

func (g *Gateway) routes() {
	maxBody := g.config.maxRequestSize()
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
			next.ServeHTTP(w, r)
		})
	})
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/command", g.handleCommand,
		okapi.DocSummary("Run a free-text command"),
		okapi.DocTags("Commands"),
		okapi.DocRequestBody(CommandRequest{}),
		okapi.DocResponse(router.Response{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	if g.sseEnabled {
		g.group.Post("/command/stream", g.handleCommandStream,
			okapi.DocSummary("Run a free-text command and stream progress via SSE"),
			okapi.DocTags("Commands"),
			okapi.DocRequestBody(CommandRequest{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		)
	}

	g.group.Post("/tasks", g.handleTask,
		okapi.DocSummary("Execute a single task on the first capable agent"),
		okapi.DocTags("Tasks"),
		okapi.DocRequestBody(TaskRequest{}),
		okapi.DocResponse(agent.Outcome{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Post("/tasks/batch", g.handleTaskBatch,
		okapi.DocSummary("Execute several tasks in parallel or sequentially"),
		okapi.DocTags("Tasks"),
		okapi.DocRequestBody(BatchRequest{}),
		okapi.DocResponse(BatchResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)

	g.group.Post("/workflows", g.handleWorkflowRun,
		okapi.DocSummary("Run a workflow from a template or an explicit step list"),
		okapi.DocTags("Workflows"),
		okapi.DocRequestBody(WorkflowRequest{}),
		okapi.DocResponse(orchestrator.WorkflowOutcome{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/workflows", g.handleWorkflowList,
		okapi.DocSummary("List running and recent workflows"),
		okapi.DocTags("Workflows"),
		okapi.DocResponse(WorkflowListResponse{}),
	)
	g.group.Get("/workflows/{id}", g.handleWorkflowGet,
		okapi.DocSummary("Get a workflow by ID"),
		okapi.DocTags("Workflows"),
		okapi.DocPathParam("id", "string", "Workflow ID"),
		okapi.DocResponse(orchestrator.Workflow{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/templates", g.handleTemplates,
		okapi.DocSummary("List workflow templates"),
		okapi.DocTags("Workflows"),
		okapi.DocResponse([]TemplateResponse{}),
	)
	g.group.Get("/status", g.handleStatus,
		okapi.DocSummary("Agent and workflow status"),
		okapi.DocTags("Status"),
		okapi.DocResponse(orchestrator.Status{}),
	)

	if g.jobs != nil {
		g.group.Get("/jobs", g.handleJobList,
			okapi.DocSummary("List scheduled jobs"),
			okapi.DocTags("Jobs"),
			okapi.DocResponse([]scheduler.JobStatus{}),
		)
		g.group.Post("/jobs/{name}/run", g.handleJobRun,
			okapi.DocSummary("Run a scheduled job now"),
			okapi.DocTags("Jobs"),
			okapi.DocPathParam("name", "string", "Job name"),
			okapi.DocResponse(scheduler.JobStatus{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	g.Handler()
	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Workflows run inside the request.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	err := g.okapi.StartServer(g.server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.server.Shutdown(ctx)
}

// --- Command handlers ---

// CommandRequest is the JSON body for POST /v1/command.
type CommandRequest struct {
	Text string `json:"text"`
}

func (g *Gateway) handleCommand(c *okapi.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.AbortBadRequest("text is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http command",
		slog.String("user_id", c.GetString("userID")),
		slog.String("correlation_id", correlationID),
	)

	resp, err := g.router.Handle(c.Context(), req.Text)
	if err != nil {
		return g.workflowError(c, correlationID, err)
	}
	return c.OK(resp)
}

// --- Task handlers ---

// TaskRequest is the JSON body for POST /v1/tasks.
type TaskRequest struct {
	Description string         `json:"description"`
	TaskType    string         `json:"task_type"`
	Priority    int            `json:"priority,omitempty"` // 1 low .. 4 critical. Default: 2.
	Context     map[string]any `json:"context,omitempty"`
}

func (r TaskRequest) task() *agent.Task {
	return agent.NewTask(r.Description, r.TaskType, agent.Priority(r.Priority), r.Context)
}

func (r TaskRequest) validate() string {
	switch {
	case strings.TrimSpace(r.TaskType) == "":
		return "task_type is required"
	case r.Priority < 0 || r.Priority > int(agent.PriorityCritical):
		return "priority must be between 1 and 4"
	}
	return ""
}

func (g *Gateway) handleTask(c *okapi.Context) error {
	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if msg := req.validate(); msg != "" {
		return c.AbortBadRequest(msg)
	}
	return c.OK(g.orch.ExecuteTask(c.Context(), req.task()))
}

// BatchRequest is the JSON body for POST /v1/tasks/batch.
type BatchRequest struct {
	Mode  string        `json:"mode"` // "parallel" (default) or "sequential".
	Tasks []TaskRequest `json:"tasks"`
}

// BatchResponse holds one outcome per submitted task, in order. Sequential
// batches stop at the first failure, so they may return fewer outcomes.
type BatchResponse struct {
	Mode     string          `json:"mode"`
	Outcomes []agent.Outcome `json:"outcomes"`
}

func (g *Gateway) handleTaskBatch(c *okapi.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if len(req.Tasks) == 0 {
		return c.AbortBadRequest("tasks is required")
	}
	if len(req.Tasks) > maxBatchTasks {
		return c.AbortBadRequest("too many tasks")
	}
	tasks := make([]*agent.Task, len(req.Tasks))
	for i, tr := range req.Tasks {
		if msg := tr.validate(); msg != "" {
			return c.AbortBadRequest("tasks[" + strconv.Itoa(i) + "]: " + msg)
		}
		tasks[i] = tr.task()
	}

	switch req.Mode {
	case "", "parallel":
		return c.OK(BatchResponse{Mode: "parallel", Outcomes: g.orch.ExecuteParallel(c.Context(), tasks)})
	case "sequential":
		return c.OK(BatchResponse{Mode: "sequential", Outcomes: g.orch.ExecuteSequential(c.Context(), tasks)})
	default:
		return c.AbortBadRequest("mode must be \"parallel\" or \"sequential\"")
	}
}

// --- Workflow handlers ---

// WorkflowRequest is the JSON body for POST /v1/workflows. Either Template
// or Steps must be set.
type WorkflowRequest struct {
	Name     string              `json:"name,omitempty"`
	Template string              `json:"template,omitempty"`
	Params   map[string]string   `json:"params,omitempty"`
	Steps    []orchestrator.Step `json:"steps,omitempty"`
	Context  map[string]any      `json:"context,omitempty"`
}

// WorkflowListResponse is the JSON response for GET /v1/workflows.
type WorkflowListResponse struct {
	Active  []*orchestrator.Workflow `json:"active"`
	History []orchestrator.Workflow  `json:"history"`
}

// TemplateResponse describes a workflow template.
type TemplateResponse struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params,omitempty"`
}

func (g *Gateway) handleWorkflowRun(c *okapi.Context) error {
	var req WorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	correlationID := newCorrelationID()

	switch {
	case req.Template != "" && len(req.Steps) > 0:
		return c.AbortBadRequest("template and steps are mutually exclusive")
	case req.Template != "":
		out, err := g.orch.RunTemplate(c.Context(), req.Template, req.Params)
		if err != nil {
			return g.workflowError(c, correlationID, err)
		}
		return c.OK(out)
	case len(req.Steps) > 0:
		name := req.Name
		if name == "" {
			name = "Custom Workflow"
		}
		g.logger.Info("http workflow",
			slog.String("name", name),
			slog.Int("steps", len(req.Steps)),
			slog.String("correlation_id", correlationID),
		)
		return c.OK(g.orch.RunWorkflow(c.Context(), name, req.Steps, req.Context))
	default:
		return c.AbortBadRequest("template or steps is required")
	}
}

func (g *Gateway) handleWorkflowList(c *okapi.Context) error {
	limit := defaultListLimit
	if v := c.Request().URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = n
	}
	history, err := g.orch.History(c.Context(), limit)
	if err != nil {
		g.logger.Error("listing workflows failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing workflows failed")
	}
	return c.OK(WorkflowListResponse{Active: g.orch.Active(), History: history})
}

func (g *Gateway) handleWorkflowGet(c *okapi.Context) error {
	wf, err := g.orch.Workflow(c.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, orchestrator.ErrWorkflowNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "workflow not found"})
		}
		return c.AbortInternalServerError("loading workflow failed")
	}
	return c.OK(wf)
}

func (g *Gateway) handleTemplates(c *okapi.Context) error {
	ts := orchestrator.Templates()
	resp := make([]TemplateResponse, len(ts))
	for i, t := range ts {
		resp[i] = TemplateResponse{Key: t.Key, Name: t.Name, Description: t.Description, Params: t.Params}
	}
	return c.OK(resp)
}

func (g *Gateway) handleStatus(c *okapi.Context) error {
	return c.OK(g.orch.Status())
}

// --- Health ---

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	return c.OK(g.config.HealthChecker.CheckHealth())
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the Bearer API key. With no keys configured every
// request is let through as the "local" user.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			return g.admit(c, "local", next)
		}
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		matched := -1
		for i, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				matched = i
			}
		}
		if matched < 0 {
			return c.AbortUnauthorized("invalid API key")
		}
		return g.admit(c, "key-"+strconv.Itoa(matched), next)
	}
}

// admit records the caller and applies its rate limit.
func (g *Gateway) admit(c *okapi.Context, userID string, next okapi.HandlerFunc) error {
	if err := g.limit.Allow(userID); err != nil {
		g.logger.Warn("rate limited", slog.String("user_id", userID))
		return c.AbortTooManyRequests("rate limit exceeded")
	}
	c.Set("userID", userID)
	return next(c)
}

// --- Helpers ---

// workflowError maps template start errors to HTTP responses.
func (g *Gateway) workflowError(c *okapi.Context, correlationID string, err error) error {
	g.logger.Warn("workflow could not start",
		slog.String("correlation_id", correlationID),
		slog.String("error", err.Error()),
	)
	if errors.Is(err, orchestrator.ErrUnknownTemplate) {
		return c.JSON(http.StatusNotFound, okapi.M{"error": err.Error()})
	}
	return c.AbortBadRequest(err.Error())
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
