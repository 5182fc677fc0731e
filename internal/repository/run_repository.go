package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

// RunRepository handles database operations for sync runs
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run in its initial state
func (r *RunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.State == "" {
		run.State = models.RunInit
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return classify("run create", r.db.WithContext(ctx).Create(run).Error)
}

// UpdateState records a state machine transition
func (r *RunRepository) UpdateState(ctx context.Context, id uuid.UUID, state models.RunState) error {
	err := r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      state,
			"updated_at": time.Now(),
		}).Error
	return classify("run state update", err)
}

// Finalize moves the run to its terminal state and writes the summary
func (r *RunRepository) Finalize(ctx context.Context, id uuid.UUID, state models.RunState, summary *models.RunSummary) error {
	now := time.Now()
	updates := map[string]interface{}{
		"state":       state,
		"finished_at": &now,
		"updated_at":  now,
	}
	if summary != nil {
		updates["summary"] = summary.ToJSONB()
	}
	err := r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", id).
		Updates(updates).Error
	return classify("run finalize", err)
}

// GetByID retrieves a run
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platform.NotFound("run get", id.String())
		}
		return nil, classify("run get", err)
	}
	return &run, nil
}

// List retrieves runs, newest first
func (r *RunRepository) List(ctx context.Context, limit, offset int) ([]models.SyncRun, int64, error) {
	var runs []models.SyncRun
	var total int64

	query := r.db.WithContext(ctx).Model(&models.SyncRun{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, classify("run count", err)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Order("started_at DESC").Find(&runs).Error; err != nil {
		return nil, 0, classify("run list", err)
	}
	return runs, total, nil
}
