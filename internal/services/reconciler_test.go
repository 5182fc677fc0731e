package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/repository"
)

type reconcilerFixture struct {
	db         *gorm.DB
	products   *repository.ProductRepository
	links      *repository.LinkRepository
	events     *repository.EventRepository
	runID      uuid.UUID
	reconciler *Reconciler
}

func newReconcilerFixture(t *testing.T, policy PricePolicy) *reconcilerFixture {
	db := newTestDB(t)
	f := &reconcilerFixture{
		db:       db,
		products: repository.NewProductRepository(db),
		links:    repository.NewLinkRepository(db),
		events:   repository.NewEventRepository(db),
	}
	run := &models.SyncRun{ID: uuid.New()}
	require.NoError(t, repository.NewRunRepository(db).Create(context.Background(), run))
	f.runID = run.ID
	f.reconciler = NewReconciler(f.products, f.links, f.events, policy, 0.01, testLogger())
	return f
}

func (f *reconcilerFixture) insertEvent(t *testing.T, e *models.SyncEvent) *models.SyncEvent {
	t.Helper()
	e.SyncRunID = f.runID
	if e.Status == "" {
		e.Status = models.EventPending
	}
	require.NoError(t, f.events.Insert(context.Background(), e))
	return e
}

// seedTriListed creates a product listed on three marketplaces
func (f *reconcilerFixture) seedTriListed(t *testing.T, stocked bool, qty int) *models.Product {
	t.Helper()
	p := seedProduct(t, f.db, &models.Product{
		SKU:           "OV-0100",
		BasePrice:     decimal.RequireFromString("2500.00"),
		Quantity:      qty,
		IsStockedItem: stocked,
	})
	seedLink(t, f.db, &models.PlatformLink{ProductID: p.ID, PlatformName: models.PlatformAuctionHouse, ExternalID: strPtr("ah-1")})
	seedLink(t, f.db, &models.PlatformLink{ProductID: p.ID, PlatformName: models.PlatformGearExchange, ExternalID: strPtr("ge-1")})
	seedLink(t, f.db, &models.PlatformLink{ProductID: p.ID, PlatformName: models.PlatformWebStore, ExternalID: strPtr("ws-1")})
	return p
}

func TestReconcileSaleFansOutToOtherPlatforms(t *testing.T) {
	f := newReconcilerFixture(t, PricePolicy{Authority: "canonical"})
	p := f.seedTriListed(t, false, 1)

	f.insertEvent(t, &models.SyncEvent{
		PlatformName: models.PlatformGearExchange,
		ExternalID:   "ge-1",
		ChangeType:   models.ChangeStatus,
		ProductID:    &p.ID,
		ChangeData:   models.JSONB{"old": "active", "new": "sold"},
	})

	decisions, err := f.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, decisions, 1)

	actions := decisions[0].Actions
	require.Len(t, actions, 2)
	platforms := map[models.PlatformTag]bool{}
	for _, a := range actions {
		assert.Equal(t, ActionMarkSold, a.Type)
		platforms[a.Platform] = true
	}
	assert.True(t, platforms[models.PlatformAuctionHouse])
	assert.True(t, platforms[models.PlatformWebStore])

	// Canonical consequences are committed before dispatch
	updated, err := f.products.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductSold, updated.Status)
	assert.Zero(t, updated.Quantity)

	source := findLink(mustLinks(t, f, p.ID), models.PlatformGearExchange)
	require.NotNil(t, source)
	assert.Equal(t, models.ListingSold, source.Status)
}

func TestReconcileSaleDecrementsStockedQuantity(t *testing.T) {
	f := newReconcilerFixture(t, PricePolicy{Authority: "canonical"})
	p := f.seedTriListed(t, true, 5)

	f.insertEvent(t, &models.SyncEvent{
		PlatformName: models.PlatformGearExchange,
		ExternalID:   "ge-1",
		ChangeType:   models.ChangeStatus,
		ProductID:    &p.ID,
		ChangeData:   models.JSONB{"old": "active", "new": "sold", "quantitySold": float64(2)},
	})

	_, err := f.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	updated, err := f.products.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Quantity)
	assert.Equal(t, models.ProductActive, updated.Status)
}

func TestReconcilePriceCanonicalAuthorityRestoresSource(t *testing.T) {
	f := newReconcilerFixture(t, PricePolicy{Authority: "canonical"})
	p := f.seedTriListed(t, false, 1)

	f.insertEvent(t, &models.SyncEvent{
		PlatformName: models.PlatformWebStore,
		ExternalID:   "ws-1",
		ChangeType:   models.ChangePrice,
		ProductID:    &p.ID,
		ChangeData:   models.JSONB{"old": "2500.00", "new": "2300.00"},
	})

	decisions, err := f.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Len(t, decisions[0].Actions, 1)

	action := decisions[0].Actions[0]
	assert.Equal(t, ActionUpdatePrice, action.Type)
	assert.Equal(t, models.PlatformWebStore, action.Platform)
	assert.True(t, action.Price.Equal(decimal.RequireFromString("2500.00")),
		"drifted marketplace is restored to the canonical price")

	// The canonical price itself is untouched
	updated, err := f.products.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, updated.BasePrice.Equal(decimal.RequireFromString("2500.00")))
}

func TestReconcilePriceLastWriterWinsAdoptsRemote(t *testing.T) {
	f := newReconcilerFixture(t, PricePolicy{Authority: "last_writer_wins"})
	p := f.seedTriListed(t, false, 1)

	event := f.insertEvent(t, &models.SyncEvent{
		PlatformName: models.PlatformWebStore,
		ExternalID:   "ws-1",
		ChangeType:   models.ChangePrice,
		ProductID:    &p.ID,
		ChangeData:   models.JSONB{"old": "2500.00", "new": "2300.00"},
	})

	decisions, err := f.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Len(t, decisions[0].Actions, 2)
	for _, a := range decisions[0].Actions {
		assert.Equal(t, ActionUpdatePrice, a.Type)
		assert.True(t, a.Price.Equal(decimal.RequireFromString("2300.00")))
		assert.NotEqual(t, models.PlatformWebStore, a.Platform)
	}

	updated, err := f.products.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, updated.BasePrice.Equal(decimal.RequireFromString("2300.00")))
	assert.Nil(t, updated.SpecialistPrice)

	// The adoption is flagged so a retried event cannot apply it twice
	stored, err := f.events.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, true, stored.Notes["canonical_applied"])
}

func TestReconcileSaleSupersedesPriceForSameProduct(t *testing.T) {
	f := newReconcilerFixture(t, PricePolicy{Authority: "canonical"})
	p := f.seedTriListed(t, false, 1)

	f.insertEvent(t, &models.SyncEvent{
		PlatformName: models.PlatformWebStore,
		ExternalID:   "ws-1",
		ChangeType:   models.ChangePrice,
		ProductID:    &p.ID,
		ChangeData:   models.JSONB{"old": "2500.00", "new": "2300.00"},
	})
	sale := f.insertEvent(t, &models.SyncEvent{
		PlatformName: models.PlatformGearExchange,
		ExternalID:   "ge-1",
		ChangeType:   models.ChangeStatus,
		ProductID:    &p.ID,
		ChangeData:   models.JSONB{"old": "active", "new": "sold"},
	})

	decisions, err := f.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, sale.ID, decisions[0].Event.ID)

	events, _, err := f.events.List(context.Background(), repository.EventListOptions{Status: models.EventSkipped})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.ChangePrice, events[0].ChangeType)
	assert.Equal(t, "superseded_by_sold", events[0].Notes["reason"])
}

func TestReconcileQuantityPropagates(t *testing.T) {
	f := newReconcilerFixture(t, PricePolicy{Authority: "canonical"})
	p := f.seedTriListed(t, true, 10)

	f.insertEvent(t, &models.SyncEvent{
		PlatformName: models.PlatformGearExchange,
		ExternalID:   "ge-1",
		ChangeType:   models.ChangeQuantity,
		ProductID:    &p.ID,
		ChangeData:   models.JSONB{"old": float64(10), "new": float64(4)},
	})

	decisions, err := f.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Len(t, decisions[0].Actions, 2)
	for _, a := range decisions[0].Actions {
		assert.Equal(t, ActionUpdateQuantity, a.Type)
		assert.Equal(t, 4, a.Quantity)
	}

	updated, err := f.products.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)
}

func TestReconcileRemovedListingFlagsLastActive(t *testing.T) {
	f := newReconcilerFixture(t, PricePolicy{Authority: "canonical"})
	p := seedProduct(t, f.db, &models.Product{
		SKU:       "OV-0101",
		BasePrice: decimal.RequireFromString("800.00"),
		Quantity:  1,
	})
	seedLink(t, f.db, &models.PlatformLink{ProductID: p.ID, PlatformName: models.PlatformVintageMart, ExternalID: strPtr("vm-1")})

	event := f.insertEvent(t, &models.SyncEvent{
		PlatformName: models.PlatformVintageMart,
		ExternalID:   "vm-1",
		ChangeType:   models.ChangeRemovedListing,
		ProductID:    &p.ID,
		ChangeData:   models.JSONB{"localStatus": "active"},
	})

	decisions, err := f.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, decisions, "a removal never propagates outbound")

	stored, err := f.events.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventProcessed, stored.Status)
	assert.Equal(t, true, stored.Notes["needs_review"])
	assert.Equal(t, "last_active_listing_removed", stored.Notes["reason"])

	link := findLink(mustLinks(t, f, p.ID), models.PlatformVintageMart)
	require.NotNil(t, link)
	assert.Equal(t, models.ListingRemoved, link.Status)
}

func TestReconcileRogueListingStaysPending(t *testing.T) {
	f := newReconcilerFixture(t, PricePolicy{Authority: "canonical"})

	event := f.insertEvent(t, &models.SyncEvent{
		PlatformName: models.PlatformVintageMart,
		ExternalID:   "vm-999",
		ChangeType:   models.ChangeNewListing,
		ChangeData:   models.JSONB{"title": "Mystery guitar", "price": "100.00"},
	})

	decisions, err := f.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, decisions)

	stored, err := f.events.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventPending, stored.Status)
}

func TestReconcileNewListingWithConfirmedHintCreatesLink(t *testing.T) {
	f := newReconcilerFixture(t, PricePolicy{Authority: "canonical"})
	p := seedProduct(t, f.db, &models.Product{
		SKU:       "OV-0102",
		BasePrice: decimal.RequireFromString("1200.00"),
	})
	require.NoError(t, f.db.Create(&models.ProductMapping{
		ProductID:    p.ID,
		PlatformName: models.PlatformVintageMart,
		ExternalID:   "vm-1000",
		Confidence:   80,
		ConfirmedBy:  "operator@oakvale",
	}).Error)

	event := f.insertEvent(t, &models.SyncEvent{
		PlatformName: models.PlatformVintageMart,
		ExternalID:   "vm-1000",
		ChangeType:   models.ChangeNewListing,
		ChangeData:   models.JSONB{"title": "Confirmed item", "price": "1200.00", "listingUrl": "https://vm.example/1000"},
	})

	_, err := f.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	stored, err := f.events.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventProcessed, stored.Status)
	require.NotNil(t, stored.ProductID)
	assert.Equal(t, p.ID, *stored.ProductID)

	link := findLink(mustLinks(t, f, p.ID), models.PlatformVintageMart)
	require.NotNil(t, link)
	require.NotNil(t, link.ExternalID)
	assert.Equal(t, "vm-1000", *link.ExternalID)
	assert.Equal(t, models.ListingActive, link.Status)
	assert.Equal(t, "https://vm.example/1000", link.ListingURL)
}

func mustLinks(t *testing.T, f *reconcilerFixture, productID uint) []models.PlatformLink {
	t.Helper()
	links, err := f.links.GetForProduct(context.Background(), productID)
	require.NoError(t, err)
	return links
}
