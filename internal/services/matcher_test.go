package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/repository"
)

func TestMatcherSuggestsByBrandModelYearPrice(t *testing.T) {
	db := newTestDB(t)
	products := repository.NewProductRepository(db)
	matcher := NewMatcher(products, 50, testLogger())

	strat := seedProduct(t, db, &models.Product{
		SKU:       "OV-0077",
		Title:     "1965 Fender Stratocaster",
		Brand:     "Fender",
		Model:     "Stratocaster",
		Year:      "1965",
		Finish:    "Sunburst",
		BasePrice: decimal.RequireFromString("4999.00"),
	})
	seedProduct(t, db, &models.Product{
		SKU:       "OV-0078",
		Title:     "Gibson Les Paul",
		Brand:     "Gibson",
		Model:     "Les Paul",
		BasePrice: decimal.RequireFromString("3200.00"),
	})

	candidate, err := matcher.Suggest(context.Background(),
		models.PlatformVintageMart, "vm-555",
		"Fender Stratocaster 1965 Sunburst - all original",
		decimal.RequireFromString("4999.00"))
	require.NoError(t, err)
	require.NotNil(t, candidate)

	assert.Equal(t, strat.ID, candidate.ProductID)
	assert.Equal(t, "OV-0077", candidate.SKU)
	assert.GreaterOrEqual(t, candidate.Confidence, 50)
	assert.Contains(t, candidate.Reason, "brand")
	assert.Contains(t, candidate.Reason, "model")
}

func TestMatcherReturnsNilBelowThreshold(t *testing.T) {
	db := newTestDB(t)
	products := repository.NewProductRepository(db)
	matcher := NewMatcher(products, 50, testLogger())

	seedProduct(t, db, &models.Product{
		SKU:       "OV-0079",
		Title:     "Martin D-28",
		Brand:     "Martin",
		Model:     "D-28",
		BasePrice: decimal.RequireFromString("2800.00"),
	})

	// Only the year could match, far below threshold
	candidate, err := matcher.Suggest(context.Background(),
		models.PlatformVintageMart, "vm-556",
		"Unbranded parlor guitar", decimal.RequireFromString("150.00"))
	require.NoError(t, err)
	assert.Nil(t, candidate)
}

func TestMatcherSkipsProductsAlreadyListedOnPlatform(t *testing.T) {
	db := newTestDB(t)
	products := repository.NewProductRepository(db)
	matcher := NewMatcher(products, 50, testLogger())

	listed := seedProduct(t, db, &models.Product{
		SKU:       "OV-0080",
		Title:     "Fender Telecaster",
		Brand:     "Fender",
		Model:     "Telecaster",
		BasePrice: decimal.RequireFromString("1800.00"),
	})
	seedLink(t, db, &models.PlatformLink{
		ProductID:    listed.ID,
		PlatformName: models.PlatformVintageMart,
		ExternalID:   strPtr("vm-1"),
		Status:       models.ListingActive,
	})

	// The product already has a live listing there; a second remote listing
	// cannot be the same physical item
	candidate, err := matcher.Suggest(context.Background(),
		models.PlatformVintageMart, "vm-557",
		"Fender Telecaster", decimal.RequireFromString("1800.00"))
	require.NoError(t, err)
	assert.Nil(t, candidate)
}

func TestMatcherMappingHintBoostsScore(t *testing.T) {
	db := newTestDB(t)
	products := repository.NewProductRepository(db)
	matcher := NewMatcher(products, 50, testLogger())

	p := seedProduct(t, db, &models.Product{
		SKU:       "OV-0081",
		Title:     "Gretsch 6120",
		Brand:     "Gretsch",
		BasePrice: decimal.RequireFromString("3500.00"),
	})
	require.NoError(t, db.Create(&models.ProductMapping{
		ProductID:    p.ID,
		PlatformName: models.PlatformVintageMart,
		ExternalID:   "vm-558",
		Confidence:   40,
	}).Error)

	// Brand alone scores 25; the stored hint lifts it over the threshold
	candidate, err := matcher.Suggest(context.Background(),
		models.PlatformVintageMart, "vm-558",
		"Gretsch hollowbody", decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, p.ID, candidate.ProductID)
	assert.Contains(t, candidate.Reason, "mapping_hint")
}
