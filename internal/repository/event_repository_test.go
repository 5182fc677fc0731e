package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func newRunID(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()
	run := &models.SyncRun{ID: uuid.New()}
	require.NoError(t, NewRunRepository(db).Create(context.Background(), run))
	return run.ID
}

func pendingEvent(runID uuid.UUID, externalID string, changeType models.ChangeType) *models.SyncEvent {
	return &models.SyncEvent{
		SyncRunID:    runID,
		PlatformName: models.PlatformGearExchange,
		ExternalID:   externalID,
		ChangeType:   changeType,
		Status:       models.EventPending,
		ChangeData:   models.JSONB{"old": "100.00", "new": "90.00"},
	}
}

func TestEventInsertDeduplicatesPending(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventRepository(db)
	runID := newRunID(t, db)

	require.NoError(t, repo.Insert(context.Background(), pendingEvent(runID, "100", models.ChangePrice)))

	// Same key while pending: the partial unique index rejects it
	err := repo.Insert(context.Background(), pendingEvent(runID, "100", models.ChangePrice))
	require.Error(t, err)
	assert.True(t, platform.IsConflict(err))

	// Different change type for the same listing is a different key
	require.NoError(t, repo.Insert(context.Background(), pendingEvent(runID, "100", models.ChangeQuantity)))
}

func TestEventInsertAllowsKeyAfterTerminalStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventRepository(db)
	runID := newRunID(t, db)

	first := pendingEvent(runID, "100", models.ChangePrice)
	require.NoError(t, repo.Insert(context.Background(), first))
	require.NoError(t, repo.UpdateStatus(context.Background(), first.ID, models.EventProcessed, nil))

	// The index only guards pending rows; a settled event frees the key
	require.NoError(t, repo.Insert(context.Background(), pendingEvent(runID, "100", models.ChangePrice)))
}

func TestFetchOpenIncludesPartialsExcludesMarkers(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventRepository(db)
	runID := newRunID(t, db)

	pending := pendingEvent(runID, "100", models.ChangePrice)
	require.NoError(t, repo.Insert(context.Background(), pending))

	partial := pendingEvent(runID, "101", models.ChangeStatus)
	partial.Status = models.EventPartial
	require.NoError(t, repo.Insert(context.Background(), partial))

	settled := pendingEvent(runID, "102", models.ChangePrice)
	settled.Status = models.EventProcessed
	require.NoError(t, repo.Insert(context.Background(), settled))

	marker := pendingEvent(runID, "GEAR_EXCHANGE", models.ChangeDetectionTimeout)
	require.NoError(t, repo.Insert(context.Background(), marker))

	open, err := repo.FetchOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, e := range open {
		assert.NotEqual(t, models.ChangeDetectionTimeout, e.ChangeType)
		assert.NotEqual(t, models.EventProcessed, e.Status)
	}
}

func TestUpdateStatusStampsProcessedAtOnTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventRepository(db)
	runID := newRunID(t, db)

	event := pendingEvent(runID, "100", models.ChangePrice)
	require.NoError(t, repo.Insert(context.Background(), event))

	require.NoError(t, repo.UpdateStatus(context.Background(), event.ID, models.EventPartial, models.JSONB{"reason": "retry"}))
	stored, err := repo.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ProcessedAt)
	assert.Equal(t, "retry", stored.Notes["reason"])

	require.NoError(t, repo.UpdateStatus(context.Background(), event.ID, models.EventProcessed, nil))
	stored, err = repo.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestCountByStatusForRun(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventRepository(db)
	runID := newRunID(t, db)
	otherRun := newRunID(t, db)

	for i, status := range []models.EventStatus{
		models.EventProcessed, models.EventProcessed, models.EventError, models.EventSkipped,
	} {
		e := pendingEvent(runID, fmt.Sprintf("%d", i), models.ChangePrice)
		e.Status = status
		require.NoError(t, repo.Insert(context.Background(), e))
	}
	stray := pendingEvent(otherRun, "other", models.ChangePrice)
	stray.Status = models.EventProcessed
	require.NoError(t, repo.Insert(context.Background(), stray))

	counts, err := repo.CountByStatusForRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.EventProcessed])
	assert.Equal(t, 1, counts[models.EventError])
	assert.Equal(t, 1, counts[models.EventSkipped])
	assert.Zero(t, counts[models.EventPending])
}
