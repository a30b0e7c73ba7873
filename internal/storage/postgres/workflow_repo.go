package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/bosco-os/bosco/internal/orchestrator"
)

// WorkflowRepository implements orchestrator.HistoryStore with GORM. It works
// unchanged on both PostgreSQL and SQLite.
type WorkflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository creates a WorkflowRepository.
func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// SaveWorkflow inserts or replaces wf.
func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, wf *orchestrator.Workflow) error {
	model, err := toWorkflowModel(wf)
	if err != nil {
		return fmt.Errorf("saving workflow %s: %w", wf.ID, err)
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("saving workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*orchestrator.Workflow, error) {
	var model WorkflowModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", orchestrator.ErrWorkflowNotFound, id)
		}
		return nil, fmt.Errorf("getting workflow %s: %w", id, err)
	}
	return toWorkflowDomain(&model)
}

// ListWorkflows returns up to limit workflows, newest first. A limit <= 0
// returns all of them.
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, limit int) ([]orchestrator.Workflow, error) {
	var models []WorkflowModel
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	out := make([]orchestrator.Workflow, 0, len(models))
	for i := range models {
		wf, err := toWorkflowDomain(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *wf)
	}
	return out, nil
}

var _ orchestrator.HistoryStore = (*WorkflowRepository)(nil)
