package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/gateway"
	"github.com/bosco-os/bosco/internal/observability"
	"github.com/bosco-os/bosco/internal/orchestrator"
	"github.com/bosco-os/bosco/internal/ratelimit"
	"github.com/bosco-os/bosco/internal/router"
	"github.com/bosco-os/bosco/internal/scheduler"
)

var _ gateway.Gateway = (*Gateway)(nil)

type fakeOrchestrator struct {
	mu        sync.Mutex
	tasks     []*agent.Task
	mode      string
	templates []string
	steps     []orchestrator.Step
	history   []orchestrator.Workflow
}

func (f *fakeOrchestrator) ExecuteTask(_ context.Context, task *agent.Task) agent.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return agent.Outcome{Success: true, Agent: "Security Agent", TaskID: task.ID, Result: map[string]any{"type": task.Type}}
}

func (f *fakeOrchestrator) ExecuteParallel(ctx context.Context, tasks []*agent.Task) []agent.Outcome {
	f.mode = "parallel"
	return f.each(ctx, tasks)
}

func (f *fakeOrchestrator) ExecuteSequential(ctx context.Context, tasks []*agent.Task) []agent.Outcome {
	f.mode = "sequential"
	return f.each(ctx, tasks)
}

func (f *fakeOrchestrator) each(ctx context.Context, tasks []*agent.Task) []agent.Outcome {
	out := make([]agent.Outcome, len(tasks))
	for i, t := range tasks {
		out[i] = f.ExecuteTask(ctx, t)
	}
	return out
}

func (f *fakeOrchestrator) RunWorkflow(_ context.Context, name string, steps []orchestrator.Step, _ map[string]any) orchestrator.WorkflowOutcome {
	f.steps = steps
	return orchestrator.WorkflowOutcome{Success: true, Workflow: &orchestrator.Workflow{ID: "workflow_custom", Name: name}}
}

func (f *fakeOrchestrator) RunTemplate(_ context.Context, name string, _ map[string]string) (orchestrator.WorkflowOutcome, error) {
	if _, ok := orchestrator.LookupTemplate(name); !ok {
		return orchestrator.WorkflowOutcome{}, orchestrator.ErrUnknownTemplate
	}
	f.templates = append(f.templates, name)
	return orchestrator.WorkflowOutcome{Success: true, Workflow: &orchestrator.Workflow{ID: "workflow_1", Name: name}}, nil
}

func (f *fakeOrchestrator) Status() orchestrator.Status {
	return orchestrator.Status{Agents: []agent.Snapshot{{AgentID: "security_agent", Name: "Security Agent"}}, CompletedWorkflows: len(f.history)}
}

func (f *fakeOrchestrator) Active() []*orchestrator.Workflow { return nil }

func (f *fakeOrchestrator) History(_ context.Context, limit int) ([]orchestrator.Workflow, error) {
	if limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeOrchestrator) Workflow(_ context.Context, id string) (*orchestrator.Workflow, error) {
	for i := range f.history {
		if f.history[i].ID == id {
			return &f.history[i], nil
		}
	}
	return nil, orchestrator.ErrWorkflowNotFound
}

type fakeJobs struct {
	ran []string
}

func (f *fakeJobs) Jobs() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Name: "nightly-audit", Schedule: "0 2 * * *", Template: "infra-audit"}}
}

func (f *fakeJobs) RunNow(_ context.Context, name string) error {
	if name != "nightly-audit" {
		return scheduler.ErrUnknownJob
	}
	f.ran = append(f.ran, name)
	return nil
}

func newTestServer(t *testing.T, cfg Config, orch *fakeOrchestrator) *httptest.Server {
	t.Helper()
	g := NewGateway(cfg, orch, router.New(orch, nil), nil).WithSSE(true).WithJobs(&fakeJobs{})
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, buf.Bytes()
}

// --- Authentication ---

func TestAuth(t *testing.T) {
	srv := newTestServer(t, Config{APIKeys: []string{"k1", "k2"}}, &fakeOrchestrator{})

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/status", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no header: status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/status", nil, map[string]string{"Authorization": "Bearer nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/status", nil, map[string]string{"Authorization": "Bearer k2"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid key: status = %d", resp.StatusCode)
	}

	// Probes stay open.
	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: status = %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	orch := &fakeOrchestrator{}
	g := NewGateway(Config{APIKeys: []string{"k1", "k2"}}, orch, router.New(orch, nil), nil).
		WithRateLimiter(ratelimit.New(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 2}))
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)

	k1 := map[string]string{"Authorization": "Bearer k1"}
	for i := range 2 {
		resp, _ := do(t, http.MethodGet, srv.URL+"/v1/status", nil, k1)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, resp.StatusCode)
		}
	}
	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/status", nil, k1)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("over burst: status = %d", resp.StatusCode)
	}

	// Each key has its own bucket.
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/status", nil, map[string]string{"Authorization": "Bearer k2"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("second key: status = %d", resp.StatusCode)
	}
}

// --- Commands ---

func TestCommand(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv := newTestServer(t, Config{}, orch)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/command", CommandRequest{Text: "scan 10.0.0.1"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out router.Response
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Intent.TaskType != "network_scan" {
		t.Errorf("response = %+v", out)
	}
	if len(orch.tasks) != 1 || orch.tasks[0].Context["target"] != "10.0.0.1" {
		t.Errorf("tasks = %+v", orch.tasks)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/command", CommandRequest{Text: "  "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty text: status = %d", resp.StatusCode)
	}
}

func TestCommandStream(t *testing.T) {
	srv := newTestServer(t, Config{}, &fakeOrchestrator{})

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/command/stream", CommandRequest{Text: "pentest 10.0.0.5"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	s := string(body)
	for _, want := range []string{"event: intent", "event: result", "event: done"} {
		if !strings.Contains(s, want) {
			t.Errorf("stream missing %q:\n%s", want, s)
		}
	}
	if strings.Index(s, "event: intent") > strings.Index(s, "event: result") {
		t.Error("intent must precede result")
	}
}

// --- Tasks ---

func TestTask(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv := newTestServer(t, Config{}, orch)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/tasks", TaskRequest{
		Description: "scan host",
		TaskType:    "network_scan",
		Priority:    int(agent.PriorityHigh),
		Context:     map[string]any{"target": "host"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if len(orch.tasks) != 1 || orch.tasks[0].Priority != agent.PriorityHigh {
		t.Errorf("tasks = %+v", orch.tasks)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/tasks", TaskRequest{Description: "x"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing task_type: status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/tasks", TaskRequest{TaskType: "x", Priority: 9}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad priority: status = %d", resp.StatusCode)
	}
}

func TestTaskBatch(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv := newTestServer(t, Config{}, orch)

	tasks := []TaskRequest{{TaskType: "network_scan"}, {TaskType: "docker"}}
	resp, body := do(t, http.MethodPost, srv.URL+"/v1/tasks/batch", BatchRequest{Tasks: tasks}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out BatchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Mode != "parallel" || orch.mode != "parallel" || len(out.Outcomes) != 2 {
		t.Errorf("out = %+v", out)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/tasks/batch", BatchRequest{Mode: "sequential", Tasks: tasks}, nil)
	if resp.StatusCode != http.StatusOK || orch.mode != "sequential" {
		t.Errorf("sequential: status = %d mode = %s", resp.StatusCode, orch.mode)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/tasks/batch", BatchRequest{Mode: "random", Tasks: tasks}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad mode: status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/tasks/batch", BatchRequest{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty batch: status = %d", resp.StatusCode)
	}
}

// --- Workflows ---

func TestWorkflowRun(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv := newTestServer(t, Config{}, orch)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/workflows", WorkflowRequest{Template: "pentest", Params: map[string]string{"target": "x"}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("template: status = %d: %s", resp.StatusCode, body)
	}
	if len(orch.templates) != 1 {
		t.Errorf("templates = %v", orch.templates)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/workflows", WorkflowRequest{Template: "nope"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown template: status = %d", resp.StatusCode)
	}

	steps := []orchestrator.Step{{AgentType: "security", TaskType: "network_scan", Description: "scan"}}
	resp, body = do(t, http.MethodPost, srv.URL+"/v1/workflows", WorkflowRequest{Steps: steps}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("steps: status = %d: %s", resp.StatusCode, body)
	}
	var out orchestrator.WorkflowOutcome
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Workflow == nil || out.Workflow.Name != "Custom Workflow" || len(orch.steps) != 1 {
		t.Errorf("out = %+v", out)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/workflows", WorkflowRequest{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty: status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/workflows", WorkflowRequest{Template: "pentest", Steps: steps}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("both: status = %d", resp.StatusCode)
	}
}

func TestWorkflowListAndGet(t *testing.T) {
	orch := &fakeOrchestrator{history: []orchestrator.Workflow{
		{ID: "workflow_2", Name: "b"},
		{ID: "workflow_1", Name: "a"},
	}}
	srv := newTestServer(t, Config{}, orch)

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/workflows?limit=1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var list WorkflowListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.History) != 1 || list.History[0].ID != "workflow_2" {
		t.Errorf("history = %+v", list.History)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/workflows?limit=zero", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/workflows/workflow_1", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"workflow_1"`) {
		t.Errorf("get: status = %d body = %s", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/workflows/missing", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing: status = %d", resp.StatusCode)
	}
}

func TestTemplatesAndStatus(t *testing.T) {
	srv := newTestServer(t, Config{}, &fakeOrchestrator{})

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/templates", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var ts []TemplateResponse
	if err := json.Unmarshal(body, &ts); err != nil {
		t.Fatal(err)
	}
	if len(ts) != len(orchestrator.Templates()) {
		t.Errorf("templates = %d, want %d", len(ts), len(orchestrator.Templates()))
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/status", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "security_agent") {
		t.Errorf("status: %d %s", resp.StatusCode, body)
	}
}

// --- Jobs ---

func TestJobs(t *testing.T) {
	srv := newTestServer(t, Config{}, &fakeOrchestrator{})

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/jobs", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "nightly-audit") {
		t.Errorf("list: %d %s", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/jobs/nightly-audit/run", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("run: status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/jobs/other/run", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown: status = %d", resp.StatusCode)
	}
}

// --- Observability ---

func TestReadinessAndMetrics(t *testing.T) {
	hc := observability.NewHealthChecker(nil)
	hc.AddCheck("store", func(context.Context) error { return errors.New("down") })
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "bosco_test_total"}))

	srv := newTestServer(t, Config{HealthChecker: hc, MetricsRegistry: reg}, &fakeOrchestrator{})

	resp, _ := do(t, http.MethodGet, srv.URL+"/readyz", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz: status = %d", resp.StatusCode)
	}
	resp, body := do(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "bosco_test_total") {
		t.Errorf("metrics: %d %s", resp.StatusCode, body)
	}
}

func TestBodyLimit(t *testing.T) {
	srv := newTestServer(t, Config{MaxRequestSize: 64}, &fakeOrchestrator{})

	resp, _ := do(t, http.MethodPost, srv.URL+"/v1/command", CommandRequest{Text: strings.Repeat("a", 512)}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
