package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus represents the canonical status of a product
type ProductStatus string

const (
	ProductActive   ProductStatus = "ACTIVE"
	ProductInactive ProductStatus = "INACTIVE"
	ProductPending  ProductStatus = "PENDING"
	ProductSold     ProductStatus = "SOLD"
	ProductDraft    ProductStatus = "DRAFT"
)

// Condition represents the physical condition of an instrument
type Condition string

const (
	ConditionNew       Condition = "NEW"
	ConditionExcellent Condition = "EXCELLENT"
	ConditionVeryGood  Condition = "VERY_GOOD"
	ConditionGood      Condition = "GOOD"
	ConditionFair      Condition = "FAIR"
	ConditionPoor      Condition = "POOR"
)

// Product is the seller's canonical item. The SKU is stable and immutable;
// every marketplace listing ultimately hangs off one of these rows. Products
// are never hard-deleted, a sold or withdrawn item just changes status.
type Product struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	SKU         string `gorm:"type:varchar(64);not null;uniqueIndex:idx_products_sku" json:"sku"`
	Title       string `gorm:"type:varchar(500);not null" json:"title"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	Brand  string `gorm:"type:varchar(255);index:idx_products_brand" json:"brand,omitempty"`
	Model  string `gorm:"type:varchar(255)" json:"model,omitempty"`
	Year   string `gorm:"type:varchar(32)" json:"year,omitempty"`
	Finish string `gorm:"type:varchar(255)" json:"finish,omitempty"`

	// Free-form category plus per-platform mapped IDs resolved at listing time
	Category    string `gorm:"type:varchar(255)" json:"category,omitempty"`
	CategoryIDs JSONB  `gorm:"type:jsonb" json:"categoryIds,omitempty"`

	Condition Condition `gorm:"type:varchar(20);default:'GOOD'" json:"condition"`

	// Prices are GBP with two-decimal precision. SpecialistPrice, when set,
	// overrides BasePrice as the canonical price for drift detection.
	BasePrice       decimal.Decimal  `gorm:"type:numeric(12,2);not null" json:"basePrice"`
	SpecialistPrice *decimal.Decimal `gorm:"type:numeric(12,2)" json:"specialistPrice,omitempty"`

	// Quantity is always >= 0. For one-off items (IsStockedItem=false) it is
	// 0 or 1 and any sale makes the product SOLD; for stocked items a sale
	// decrements it and SOLD is reached only at zero.
	Quantity      int  `gorm:"not null;default:0" json:"quantity"`
	IsStockedItem bool `gorm:"default:false" json:"isStockedItem"`

	PrimaryImage     string `gorm:"type:varchar(1000)" json:"primaryImage,omitempty"`
	AdditionalImages JSONB  `gorm:"type:jsonb" json:"additionalImages,omitempty"`

	Status ProductStatus `gorm:"type:varchar(20);not null;default:'ACTIVE';index:idx_products_status" json:"status"`

	ManufacturingCountry string `gorm:"type:varchar(2)" json:"manufacturingCountry,omitempty"`
	ShippingProfileID    *uint  `json:"shippingProfileId,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`

	Links []PlatformLink `gorm:"foreignKey:ProductID" json:"links,omitempty"`
}

// TableName specifies the table name for Product
func (Product) TableName() string {
	return "products"
}

// CanonicalPrice returns the price drift detection compares against
func (p *Product) CanonicalPrice() decimal.Decimal {
	if p.SpecialistPrice != nil {
		return *p.SpecialistPrice
	}
	return p.BasePrice
}

// ProductMapping suggests that two products may refer to the same physical
// item. It is a hint table only: the match suggester consults it, nothing
// acts on it directly.
type ProductMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProductID       uint      `gorm:"not null;index:idx_product_mappings_product" json:"productId"`
	OtherProductID  *uint     `gorm:"index" json:"otherProductId,omitempty"`
	PlatformName    PlatformTag `gorm:"type:varchar(50)" json:"platformName,omitempty"`
	ExternalID      string    `gorm:"type:varchar(255);index:idx_product_mappings_external" json:"externalId,omitempty"`
	Confidence      int       `gorm:"default:0" json:"confidence"`
	ConfirmedBy     string    `gorm:"type:varchar(255)" json:"confirmedBy,omitempty"`
	CreatedAt       time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName specifies the table name for ProductMapping
func (ProductMapping) TableName() string {
	return "product_mappings"
}
