package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

// LocalListingRow is one row of the local snapshot the detector compares a
// remote snapshot against: the link, its product, and the marketplace
// denormalization when one exists
type LocalListingRow struct {
	Product models.Product
	Link    models.PlatformLink
	Listing *models.PlatformListing
}

// LinkRepository handles database operations for platform links and their
// marketplace-specific listing state
type LinkRepository struct {
	db *gorm.DB
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *gorm.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// FetchLocalSnapshot loads every link for a platform together with its
// product and listing state. Links whose status is refreshed are mid-relist
// and excluded from drift detection; rows with a null external id are
// included so in-flight creations are visible to the detector.
func (r *LinkRepository) FetchLocalSnapshot(ctx context.Context, platformName models.PlatformTag) ([]LocalListingRow, error) {
	var links []models.PlatformLink
	err := r.db.WithContext(ctx).
		Preload("Product").
		Preload("Listing").
		Where("platform_name = ? AND status <> ?", platformName, models.ListingRefreshed).
		Find(&links).Error
	if err != nil {
		return nil, classify("local snapshot", err)
	}

	rows := make([]LocalListingRow, 0, len(links))
	for _, link := range links {
		row := LocalListingRow{Link: link}
		if link.Product != nil {
			row.Product = *link.Product
		}
		row.Listing = link.Listing
		row.Link.Product = nil
		row.Link.Listing = nil
		rows = append(rows, row)
	}
	return rows, nil
}

// GetByExternalID retrieves the link a marketplace listing belongs to
func (r *LinkRepository) GetByExternalID(ctx context.Context, platformName models.PlatformTag, externalID string) (*models.PlatformLink, error) {
	var link models.PlatformLink
	err := r.db.WithContext(ctx).
		Preload("Product").
		Preload("Listing").
		Where("platform_name = ? AND external_id = ?", platformName, externalID).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platform.NotFound("link get by external id", externalID)
		}
		return nil, classify("link get by external id", err)
	}
	return &link, nil
}

// GetForProduct retrieves all links for a product
func (r *LinkRepository) GetForProduct(ctx context.Context, productID uint) ([]models.PlatformLink, error) {
	var links []models.PlatformLink
	err := r.db.WithContext(ctx).
		Preload("Listing").
		Where("product_id = ?", productID).
		Find(&links).Error
	if err != nil {
		return nil, classify("links for product", err)
	}
	return links, nil
}

// UpdateFields applies a partial update to a link
func (r *LinkRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&models.PlatformLink{}).
		Where("id = ?", id).
		Updates(fields).Error
	return classify("link update", err)
}

// Create inserts a new link
func (r *LinkRepository) Create(ctx context.Context, link *models.PlatformLink) error {
	return classify("link create", r.db.WithContext(ctx).Create(link).Error)
}

// UpsertListing writes the marketplace-specific listing state for a link,
// replacing any previous row
func (r *LinkRepository) UpsertListing(ctx context.Context, listing *models.PlatformListing) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "platform_link_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"category_id", "shipping_policy_id", "seller_profile_id",
				"pictures", "details", "snapshot", "updated_at",
			}),
		}).
		Create(listing).Error
	return classify("listing upsert", err)
}
