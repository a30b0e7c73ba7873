package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/bosco-os/bosco/internal/orchestrator"
)

func toWorkflowModel(wf *orchestrator.Workflow) (WorkflowModel, error) {
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return WorkflowModel{}, fmt.Errorf("encoding steps: %w", err)
	}
	var results []byte
	if len(wf.Results) > 0 {
		// Outcome data is map[string]any; agents only put JSON-safe values in it.
		if results, err = json.Marshal(wf.Results); err != nil {
			return WorkflowModel{}, fmt.Errorf("encoding results: %w", err)
		}
	}
	return WorkflowModel{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		State:       string(wf.State),
		Steps:       JSONB(steps),
		Results:     JSONB(results),
		Error:       wf.Error,
		StepCount:   len(wf.Steps),
		CreatedAt:   wf.CreatedAt,
		CompletedAt: wf.CompletedAt,
	}, nil
}

func toWorkflowDomain(m *WorkflowModel) (*orchestrator.Workflow, error) {
	wf := &orchestrator.Workflow{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		State:       orchestrator.WorkflowState(m.State),
		Error:       m.Error,
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
	if len(m.Steps) > 0 {
		if err := json.Unmarshal(m.Steps, &wf.Steps); err != nil {
			return nil, fmt.Errorf("decoding steps of workflow %s: %w", m.ID, err)
		}
	}
	if len(m.Results) > 0 {
		if err := json.Unmarshal(m.Results, &wf.Results); err != nil {
			return nil, fmt.Errorf("decoding results of workflow %s: %w", m.ID, err)
		}
	}
	return wf, nil
}
