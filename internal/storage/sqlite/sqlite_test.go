package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/orchestrator"
	"github.com/bosco-os/bosco/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "bosco.db")}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleWorkflow(id string, created time.Time) *orchestrator.Workflow {
	done := created.Add(2 * time.Second)
	return &orchestrator.Workflow{
		ID:          id,
		Name:        "Penetration Test",
		Description: "scan and report",
		State:       orchestrator.WorkflowCompleted,
		Steps: []orchestrator.StepRecord{
			{ID: "step_0", AgentType: "security_agent", TaskType: "network_scan", Description: "Scan", Status: orchestrator.StepCompleted},
			{ID: "step_1", AgentType: "security_agent", TaskType: "remediation", Description: "Advise", Status: orchestrator.StepFailed},
		},
		Results: []orchestrator.StepResult{
			{StepID: "step_0", Agent: "Security Agent", Result: agent.Outcome{
				Success: true,
				Agent:   "Security Agent",
				TaskID:  "task_1",
				Result:  map[string]any{"open_ports": []any{"22/tcp"}, "count": 1},
			}},
		},
		CreatedAt:   created,
		CompletedAt: &done,
	}
}

// --- Open ---

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}, nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpen_DriverAndPing(t *testing.T) {
	s := openTestStore(t)
	if s.Driver() != storage.DriverSQLite {
		t.Errorf("Driver() = %q", s.Driver())
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

// --- Workflow history ---

func TestWorkflows_SaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.Workflows().SaveWorkflow(ctx, sampleWorkflow("workflow_a", created)); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}
	got, err := s.Workflows().GetWorkflow(ctx, "workflow_a")
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.Name != "Penetration Test" || got.State != orchestrator.WorkflowCompleted {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(created.Add(2*time.Second)) {
		t.Errorf("CompletedAt = %v", got.CompletedAt)
	}
	if len(got.Steps) != 2 || got.Steps[1].Status != orchestrator.StepFailed {
		t.Errorf("steps = %+v", got.Steps)
	}
	if len(got.Results) != 1 || !got.Results[0].Result.Success {
		t.Fatalf("results = %+v", got.Results)
	}
	if n, _ := got.Results[0].Result.Result["count"].(float64); n != 1 {
		t.Errorf("count = %v", got.Results[0].Result.Result["count"])
	}
}

func TestWorkflows_SaveReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	wf := sampleWorkflow("workflow_a", time.Now().UTC())
	wf.State = orchestrator.WorkflowRunning
	wf.CompletedAt = nil
	if err := s.Workflows().SaveWorkflow(ctx, wf); err != nil {
		t.Fatal(err)
	}
	wf.State = orchestrator.WorkflowFailed
	wf.Error = "Step 1 failed: boom"
	if err := s.Workflows().SaveWorkflow(ctx, wf); err != nil {
		t.Fatal(err)
	}

	all, err := s.Workflows().ListWorkflows(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
	if all[0].State != orchestrator.WorkflowFailed || all[0].Error != "Step 1 failed: boom" {
		t.Errorf("got %+v", all[0])
	}
}

func TestWorkflows_GetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Workflows().GetWorkflow(context.Background(), "nope")
	if !errors.Is(err, orchestrator.ErrWorkflowNotFound) {
		t.Fatalf("err = %v, want ErrWorkflowNotFound", err)
	}
}

func TestWorkflows_ListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		wf := sampleWorkflow(fmt.Sprintf("workflow_%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := s.Workflows().SaveWorkflow(ctx, wf); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Workflows().ListWorkflows(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"workflow_4", "workflow_3", "workflow_2"} {
		if got[i].ID != want {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestWorkflows_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bosco.db")
	s, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Workflows().SaveWorkflow(context.Background(), sampleWorkflow("workflow_x", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if _, err := s2.Workflows().GetWorkflow(context.Background(), "workflow_x"); err != nil {
		t.Fatalf("workflow lost after reopen: %v", err)
	}
}
