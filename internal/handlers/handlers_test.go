package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/repository"
)

type fixture struct {
	db     *gorm.DB
	runs   *repository.RunRepository
	events *repository.EventRepository
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))

	f := &fixture{
		db:     db,
		runs:   repository.NewRunRepository(db),
		events: repository.NewEventRepository(db),
	}

	runHandler := NewRunHandler(f.runs, f.events)
	eventHandler := NewEventHandler(f.events)
	healthHandler := NewHealthHandler(db)

	f.router = gin.New()
	f.router.GET("/health", healthHandler.Health)
	f.router.GET("/ready", healthHandler.Ready)
	api := f.router.Group("/api/v1")
	api.GET("/runs", runHandler.List)
	api.GET("/runs/:id", runHandler.Get)
	api.GET("/events", eventHandler.List)
	api.GET("/events/:id", eventHandler.Get)
	return f
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.router.ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func (f *fixture) seedRun(t *testing.T, state models.RunState) *models.SyncRun {
	t.Helper()
	run := &models.SyncRun{ID: uuid.New(), State: state, StartedAt: time.Now()}
	require.NoError(t, f.db.Create(run).Error)
	return run
}

func (f *fixture) seedEvent(t *testing.T, runID uuid.UUID, platform models.PlatformTag, status models.EventStatus) *models.SyncEvent {
	t.Helper()
	event := &models.SyncEvent{
		ID:           uuid.New(),
		SyncRunID:    runID,
		PlatformName: platform,
		ExternalID:   uuid.NewString(),
		ChangeType:   models.ChangePrice,
		Status:       status,
		DetectedAt:   time.Now(),
	}
	require.NoError(t, f.db.Create(event).Error)
	return event
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	w, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, body = f.get(t, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])
}

func TestListRunsPaginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.seedRun(t, models.RunFinalized)
	}

	w, body := f.get(t, "/api/v1/runs?limit=2")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 2)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["limit"])
}

func TestGetRunIncludesEventCounts(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, models.RunFinalized)
	f.seedEvent(t, run.ID, models.PlatformGearExchange, models.EventProcessed)
	f.seedEvent(t, run.ID, models.PlatformGearExchange, models.EventProcessed)
	f.seedEvent(t, run.ID, models.PlatformWebStore, models.EventPartial)

	w, body := f.get(t, "/api/v1/runs/"+run.ID.String())
	assert.Equal(t, http.StatusOK, w.Code)

	counts := body["eventCounts"].(map[string]interface{})
	assert.Equal(t, float64(2), counts["processed"])
	assert.Equal(t, float64(1), counts["partial"])
}

func TestGetRunErrors(t *testing.T) {
	f := newFixture(t)

	w, _ := f.get(t, "/api/v1/runs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.get(t, "/api/v1/runs/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEventsFilters(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, models.RunFinalized)
	f.seedEvent(t, run.ID, models.PlatformGearExchange, models.EventPending)
	f.seedEvent(t, run.ID, models.PlatformWebStore, models.EventError)
	f.seedEvent(t, run.ID, models.PlatformWebStore, models.EventPending)

	w, body := f.get(t, "/api/v1/events?status=pending")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["total"])

	w, body = f.get(t, "/api/v1/events?status=pending&platform=WEB_STORE")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	w, _ = f.get(t, "/api/v1/events?runId=not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEvent(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, models.RunFinalized)
	event := f.seedEvent(t, run.ID, models.PlatformAuctionHouse, models.EventPending)

	w, body := f.get(t, "/api/v1/events/"+event.ID.String())
	assert.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, event.ID.String(), data["id"])

	w, _ = f.get(t, "/api/v1/events/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, w.Code)
}
