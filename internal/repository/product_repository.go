package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

// ProductRepository handles database operations for products
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByID retrieves a product by ID
func (r *ProductRepository) GetByID(ctx context.Context, id uint) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Links").
		First(&product, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platform.NotFound("product get", "")
		}
		return nil, classify("product get", err)
	}
	return &product, nil
}

// GetBySKU retrieves a product by its stable SKU
func (r *ProductRepository) GetBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Links").
		Where("sku = ?", sku).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platform.NotFound("product get by sku", sku)
		}
		return nil, classify("product get by sku", err)
	}
	return &product, nil
}

// UpdateFields applies a partial update to a product
func (r *ProductRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Updates(fields).Error
	return classify("product update", err)
}

// ListCandidatesForMatching returns products the match suggester scores a
// rogue remote listing against. Only sellable inventory is considered.
func (r *ProductRepository) ListCandidatesForMatching(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Preload("Links").
		Where("status IN ?", []models.ProductStatus{models.ProductActive, models.ProductPending, models.ProductDraft}).
		Find(&products).Error
	if err != nil {
		return nil, classify("product list candidates", err)
	}
	return products, nil
}

// GetMappingHint returns a stored mapping hint for a remote listing, if an
// operator or earlier run recorded one
func (r *ProductRepository) GetMappingHint(ctx context.Context, platformName models.PlatformTag, externalID string) (*models.ProductMapping, error) {
	var mapping models.ProductMapping
	err := r.db.WithContext(ctx).
		Where("platform_name = ? AND external_id = ?", platformName, externalID).
		Order("confidence DESC").
		First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify("mapping hint get", err)
	}
	return &mapping, nil
}

// SaveMappingHint records a match suggestion for later runs and operator
// review
func (r *ProductRepository) SaveMappingHint(ctx context.Context, mapping *models.ProductMapping) error {
	return classify("mapping hint save", r.db.WithContext(ctx).Create(mapping).Error)
}
