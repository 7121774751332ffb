package repository

import (
	"context"
	"time"

	"github.com/timmy/lookbook/internal/domain"
	"gorm.io/gorm"
)

// RunRepository persists generation runs.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a run.
func (r *RunRepository) Create(ctx context.Context, run *domain.GenerationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Update saves every column of run.
func (r *RunRepository) Update(ctx context.Context, run *domain.GenerationRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// GetByID retrieves a run.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.GenerationRun, error) {
	var run domain.GenerationRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &run, nil
}

// ListByWorkspace returns the most recent runs of a workspace, newest first.
func (r *RunRepository) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]domain.GenerationRun, error) {
	var runs []domain.GenerationRun
	q := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}

// MarkInterrupted fails runs left running by a previous process.
func (r *RunRepository) MarkInterrupted(ctx context.Context, reason string) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&domain.GenerationRun{}).
		Where("status = ?", domain.RunStatusRunning).
		Updates(map[string]interface{}{
			"status":       domain.RunStatusFailed,
			"error":        reason,
			"completed_at": &now,
		})
	return res.RowsAffected, res.Error
}
