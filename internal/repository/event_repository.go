package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

// EventKey identifies a pending event for deduplication purposes
type EventKey struct {
	PlatformName models.PlatformTag
	ExternalID   string
	ChangeType   models.ChangeType
}

// String renders the key in its canonical form
func (k EventKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.PlatformName, k.ExternalID, k.ChangeType)
}

// EventRepository handles database operations for sync events
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// FetchPendingKeys returns the dedup keys of every currently pending event.
// The writer pre-filters against this set; the partial unique index is the
// backstop for races it cannot see.
func (r *EventRepository) FetchPendingKeys(ctx context.Context) (map[string]bool, error) {
	var events []models.SyncEvent
	err := r.db.WithContext(ctx).
		Select("platform_name", "external_id", "change_type").
		Where("status = ?", models.EventPending).
		Find(&events).Error
	if err != nil {
		return nil, classify("pending keys", err)
	}

	keys := make(map[string]bool, len(events))
	for _, e := range events {
		keys[EventKey{e.PlatformName, e.ExternalID, e.ChangeType}.String()] = true
	}
	return keys, nil
}

// Insert writes one event. A collision with the pending unique index comes
// back as a Conflict the writer swallows.
func (r *EventRepository) Insert(ctx context.Context, event *models.SyncEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return classify("event insert", result.Error)
	}
	if result.RowsAffected == 0 {
		return platform.Conflict("event insert", errors.New("pending event already exists"))
	}
	return nil
}

// FetchOpen returns events awaiting reconciliation: pending plus partial
// carried over from earlier runs, oldest first
func (r *EventRepository) FetchOpen(ctx context.Context) ([]models.SyncEvent, error) {
	var events []models.SyncEvent
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.EventStatus{models.EventPending, models.EventPartial}).
		Where("change_type <> ?", models.ChangeDetectionTimeout).
		Order("detected_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, classify("open events", err)
	}
	return events, nil
}

// GetByID retrieves a single event
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncEvent, error) {
	var event models.SyncEvent
	err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platform.NotFound("event get", id.String())
		}
		return nil, classify("event get", err)
	}
	return &event, nil
}

// UpdateStatus moves an event to a new status, stamping processed_at on
// terminal transitions and merging the reconciliation notes
func (r *EventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus, notes models.JSONB) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if notes != nil {
		updates["notes"] = notes
	}
	if status.IsTerminal() {
		now := time.Now()
		updates["processed_at"] = &now
	}
	err := r.db.WithContext(ctx).
		Model(&models.SyncEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
	return classify("event status update", err)
}

// AttachProduct links a previously rogue event to a product after a match
// was confirmed
func (r *EventRepository) AttachProduct(ctx context.Context, id uuid.UUID, productID uint) error {
	err := r.db.WithContext(ctx).
		Model(&models.SyncEvent{}).
		Where("id = ?", id).
		Update("product_id", productID).Error
	return classify("event attach product", err)
}

// EventListOptions filters the event listing
type EventListOptions struct {
	Status       models.EventStatus
	PlatformName models.PlatformTag
	SyncRunID    uuid.UUID
	Limit        int
	Offset       int
}

// List retrieves events with pagination and filtering, newest first
func (r *EventRepository) List(ctx context.Context, opts EventListOptions) ([]models.SyncEvent, int64, error) {
	var events []models.SyncEvent
	var total int64

	query := r.db.WithContext(ctx).Model(&models.SyncEvent{})
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.PlatformName != "" {
		query = query.Where("platform_name = ?", opts.PlatformName)
	}
	if opts.SyncRunID != uuid.Nil {
		query = query.Where("sync_run_id = ?", opts.SyncRunID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, classify("event count", err)
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}
	if err := query.Order("detected_at DESC").Find(&events).Error; err != nil {
		return nil, 0, classify("event list", err)
	}
	return events, total, nil
}

// CountByStatusForRun aggregates event outcomes for a run's summary
func (r *EventRepository) CountByStatusForRun(ctx context.Context, runID uuid.UUID) (map[models.EventStatus]int, error) {
	var rows []struct {
		Status models.EventStatus
		Count  int
	}
	err := r.db.WithContext(ctx).
		Model(&models.SyncEvent{}).
		Select("status, count(*) as count").
		Where("sync_run_id = ?", runID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, classify("event counts", err)
	}

	counts := make(map[models.EventStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
