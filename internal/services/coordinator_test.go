package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
	"github.com/oakvale/gearsync/internal/repository"
)

type coordinatorFixture struct {
	db          *gorm.DB
	runs        *repository.RunRepository
	events      *repository.EventRepository
	links       *repository.LinkRepository
	ge          *MockAdapter
	ws          *MockAdapter
	coordinator *Coordinator
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	db := newTestDB(t)
	f := &coordinatorFixture{
		db:     db,
		runs:   repository.NewRunRepository(db),
		events: repository.NewEventRepository(db),
		links:  repository.NewLinkRepository(db),
		ge:     newMockAdapter(models.PlatformGearExchange),
		ws:     newMockAdapter(models.PlatformWebStore),
	}
	products := repository.NewProductRepository(db)
	registry := platform.NewRegistry(f.ge, f.ws)

	matcher := NewMatcher(products, 50, testLogger())
	writer := NewEventWriter(f.events, matcher, testLogger())
	reconciler := NewReconciler(products, f.links, f.events, PricePolicy{Authority: "canonical"}, 0.01, testLogger())
	dispatcher := NewDispatcher(registry, f.links, f.events, 4, 5*time.Second, testLogger())
	dispatcher.retrier = platform.NewRetrier(&platform.RetryConfig{
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
	})

	f.coordinator = NewCoordinator(CoordinatorConfig{
		DetectionConcurrency: 2,
		DetectionTimeout:     time.Minute,
		RunTimeout:           time.Minute,
	}, f.runs, f.links, f.events, registry, NewDiffEngine(0.01), writer, reconciler, dispatcher, testLogger())
	return f
}

func TestCoordinatorFullRunSaleFlow(t *testing.T) {
	f := newCoordinatorFixture(t)

	p := seedProduct(t, f.db, &models.Product{
		SKU:       "OV-0200",
		BasePrice: decimal.RequireFromString("1500.00"),
		Quantity:  1,
	})
	seedLink(t, f.db, &models.PlatformLink{ProductID: p.ID, PlatformName: models.PlatformGearExchange, ExternalID: strPtr("ge-1")})
	seedLink(t, f.db, &models.PlatformLink{ProductID: p.ID, PlatformName: models.PlatformWebStore, ExternalID: strPtr("ws-1")})

	// The gear exchange reports the item sold; the web store is unchanged
	f.ge.On("FetchAll", mock.Anything).Return([]platform.RemoteListing{
		{ExternalID: "ge-1", Status: models.ListingSold, Price: decimal.RequireFromString("1500.00")},
	}, nil)
	f.ws.On("FetchAll", mock.Anything).Return([]platform.RemoteListing{
		{ExternalID: "ws-1", Status: models.ListingActive, Price: decimal.RequireFromString("1500.00")},
	}, nil)
	f.ws.On("MarkAsSold", mock.Anything, "ws-1").Return(false, nil)

	run, err := f.coordinator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunFinalized, run.State)

	stored, err := f.runs.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFinalized, stored.State)
	assert.NotNil(t, stored.FinishedAt)
	assert.Equal(t, float64(1), stored.Summary["eventsDetected"])
	assert.Equal(t, float64(1), stored.Summary["eventsProcessed"])
	assert.Equal(t, float64(1), stored.Summary["actionsSucceeded"])

	f.ws.AssertCalled(t, "MarkAsSold", mock.Anything, "ws-1")

	var product models.Product
	require.NoError(t, f.db.First(&product, p.ID).Error)
	assert.Equal(t, models.ProductSold, product.Status)
}

func TestCoordinatorDetectionFailureDoesNotAbort(t *testing.T) {
	f := newCoordinatorFixture(t)

	f.ge.On("FetchAll", mock.Anything).
		Return(nil, platform.Transient("fetch", errors.New("connection reset")))
	f.ws.On("FetchAll", mock.Anything).Return([]platform.RemoteListing{}, nil)

	run, err := f.coordinator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunFinalized, run.State)

	stored, err := f.runs.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), stored.Summary["detectionErrors"])
}

func TestCoordinatorNoDriftProducesCleanRun(t *testing.T) {
	f := newCoordinatorFixture(t)

	f.ge.On("FetchAll", mock.Anything).Return([]platform.RemoteListing{}, nil)
	f.ws.On("FetchAll", mock.Anything).Return([]platform.RemoteListing{}, nil)

	run, err := f.coordinator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunFinalized, run.State)

	stored, err := f.runs.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(0), stored.Summary["eventsDetected"])
	assert.Equal(t, float64(0), stored.Summary["actionsAttempted"])
}

func TestCoordinatorReprocessSettlesCarriedPartial(t *testing.T) {
	f := newCoordinatorFixture(t)

	p := seedProduct(t, f.db, &models.Product{
		SKU:       "OV-0201",
		BasePrice: decimal.RequireFromString("900.00"),
		Status:    models.ProductSold,
	})
	wsLink := seedLink(t, f.db, &models.PlatformLink{ProductID: p.ID, PlatformName: models.PlatformWebStore, ExternalID: strPtr("ws-1")})
	geLink := seedLink(t, f.db, &models.PlatformLink{ProductID: p.ID, PlatformName: models.PlatformGearExchange, ExternalID: strPtr("ge-1"), Status: models.ListingSold})
	_ = geLink

	run := &models.SyncRun{State: models.RunFinalized}
	require.NoError(t, f.runs.Create(context.Background(), run))

	// A carried-over partial sale event: the web store leg still owes a call
	event := &models.SyncEvent{
		SyncRunID:    run.ID,
		PlatformName: models.PlatformGearExchange,
		ExternalID:   "ge-1",
		ChangeType:   models.ChangeStatus,
		ProductID:    &p.ID,
		ChangeData:   models.JSONB{"old": "active", "new": "sold"},
		Status:       models.EventPartial,
		Notes:        models.JSONB{"canonical_applied": true},
	}
	require.NoError(t, f.events.Insert(context.Background(), event))

	f.ws.On("MarkAsSold", mock.Anything, "ws-1").Return(true, nil)

	reprocessed, err := f.coordinator.Reprocess(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFinalized, reprocessed.State)

	stored, err := f.events.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventProcessed, stored.Status)

	var link models.PlatformLink
	require.NoError(t, f.db.First(&link, wsLink.ID).Error)
	assert.Equal(t, models.ListingSold, link.Status)
}
