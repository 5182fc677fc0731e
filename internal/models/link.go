package models

import (
	"time"
)

// PlatformLink associates one Product with one marketplace. Its status is the
// authoritative canonical view of what that marketplace currently shows.
// Links are never deleted; they transition to removed/ended instead.
type PlatformLink struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	ProductID uint        `gorm:"not null;uniqueIndex:idx_platform_links_product_platform" json:"productId"`
	PlatformName PlatformTag `gorm:"type:varchar(50);not null;uniqueIndex:idx_platform_links_product_platform;index:idx_platform_links_platform" json:"platformName"`

	// ExternalID is the marketplace-assigned identifier. Null while a listing
	// is being created and we have not yet heard back.
	ExternalID *string `gorm:"type:varchar(255);index:idx_platform_links_external" json:"externalId,omitempty"`

	Status     ListingStatus `gorm:"type:varchar(20);not null;default:'draft';index:idx_platform_links_status" json:"status"`
	ListingURL string        `gorm:"type:varchar(1000)" json:"listingUrl,omitempty"`

	LastSync   *time.Time     `json:"lastSync,omitempty"`
	SyncStatus LinkSyncStatus `gorm:"type:varchar(20);default:'PENDING'" json:"syncStatus"`

	// Opaque marketplace-specific state the reconciler carries but never reads
	PlatformSpecificData JSONB `gorm:"type:jsonb" json:"platformSpecificData,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`

	Product *Product         `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Listing *PlatformListing `gorm:"foreignKey:PlatformLinkID" json:"listing,omitempty"`
}

// TableName specifies the table name for PlatformLink
func (PlatformLink) TableName() string {
	return "platform_links"
}

// PlatformListing holds the marketplace-specific denormalized state for one
// link: resolved category/policy/profile IDs, the picture set as the
// marketplace knows it, and the last raw API snapshot. Typed fields are
// extracted at the adapter boundary; marketplace extras that have no common
// column live in Details.
type PlatformListing struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	PlatformLinkID uint        `gorm:"not null;uniqueIndex:idx_platform_listings_link" json:"platformLinkId"`
	PlatformName   PlatformTag `gorm:"type:varchar(50);not null" json:"platformName"`

	CategoryID        string `gorm:"type:varchar(255)" json:"categoryId,omitempty"`
	ShippingPolicyID  string `gorm:"type:varchar(255)" json:"shippingPolicyId,omitempty"`
	SellerProfileID   string `gorm:"type:varchar(255)" json:"sellerProfileId,omitempty"`
	Pictures          JSONB  `gorm:"type:jsonb" json:"pictures,omitempty"`

	// Details carries marketplace-specific fields with no common column
	// (auction duration, GraphQL node ids, scrape session hints, ...)
	Details JSONB `gorm:"type:jsonb" json:"details,omitempty"`

	// Snapshot is the raw payload from the last successful fetch, kept for
	// audit and downstream enrichment
	Snapshot JSONB `gorm:"type:jsonb" json:"snapshot,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for PlatformListing
func (PlatformListing) TableName() string {
	return "platform_listings"
}
