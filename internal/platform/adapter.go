package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/oakvale/gearsync/internal/models"
)

// RemoteListing is one marketplace listing as the adapter reports it after
// normalization: universal status, GBP price at two decimals, quantities
// where the marketplace exposes them. Raw preserves the untouched payload
// for event audit trails and downstream enrichment; nothing outside the
// adapter reaches into it.
type RemoteListing struct {
	ExternalID string               `json:"externalId"`
	Status     models.ListingStatus `json:"status"`
	Price      decimal.Decimal      `json:"price"`

	// Absent (nil) when the marketplace does not expose quantities
	QuantityTotal     *int `json:"quantityTotal,omitempty"`
	QuantityAvailable *int `json:"quantityAvailable,omitempty"`
	QuantitySold      *int `json:"quantitySold,omitempty"`

	Title      string          `json:"title"`
	ListingURL string          `json:"listingUrl,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// QuantityHints carries optional context for quantity updates on
// marketplaces that want absolute totals rather than available counts
type QuantityHints struct {
	Total *int
	Sold  *int
}

// CreateContext is the enrichment an adapter needs to create a listing:
// resolved per-marketplace category and policy identifiers plus the picture
// set to publish
type CreateContext struct {
	CategoryID       string
	ShippingPolicyID string
	SellerProfileID  string
	Pictures         []string
}

// CreateResult reports a successful listing creation
type CreateResult struct {
	ExternalID string
	ListingURL string
	// Details carries marketplace-specific state worth persisting on the
	// platform listing (slugs, node ids, auction end times)
	Details models.JSONB
}

// EditResult reports a successful product edit push
type EditResult struct {
	UpdatedFields []string
	Details       models.JSONB
}

// Adapter is the uniform detection + action contract every marketplace
// client implements. Implementations own transport, authentication, rate
// limits and payload idiosyncrasies; they translate every native status
// token into the universal set and every failure into the closed error
// taxonomy before returning.
//
// Outbound calls must be effectively idempotent for a given
// (externalID, intent): repeating UpdatePrice(x, 100) after a success is a
// no-op.
type Adapter interface {
	// Name returns the platform tag this adapter serves
	Name() models.PlatformTag

	// FetchAll returns the complete current snapshot, paginating
	// transparently. Implementations check ctx between pages.
	FetchAll(ctx context.Context) ([]RemoteListing, error)

	// MarkAsSold ends the listing as sold. A remote that already closed the
	// listing by other means is success; alreadyClosed reports that case.
	MarkAsSold(ctx context.Context, externalID string) (alreadyClosed bool, err error)

	// UpdatePrice sets the listing price (GBP, two decimals)
	UpdatePrice(ctx context.Context, externalID string, newPrice decimal.Decimal) error

	// UpdateQuantity sets the available quantity. Single-quantity
	// marketplaces accept only newQty == 0, which ends the listing.
	UpdateQuantity(ctx context.Context, externalID string, newQty int, hints QuantityHints) error

	// CreateListing publishes a product as a new listing
	CreateListing(ctx context.Context, product *models.Product, enriched *CreateContext) (*CreateResult, error)

	// ApplyProductEdit pushes changed canonical fields to an existing listing
	ApplyProductEdit(ctx context.Context, product *models.Product, link *models.PlatformLink, changedFields []string) (*EditResult, error)

	// SupportsMultiQuantity reports whether the marketplace can hold a
	// listing with quantity > 1
	SupportsMultiQuantity() bool
}

// Registry holds the enabled adapters, injected at startup by the
// coordinator. No component looks adapters up by name at runtime through
// any other path.
type Registry struct {
	adapters map[models.PlatformTag]Adapter
}

// NewRegistry creates a registry from the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.PlatformTag]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for a platform
func (r *Registry) Get(tag models.PlatformTag) (Adapter, error) {
	a, ok := r.adapters[tag]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %s", tag)
	}
	return a, nil
}

// Tags returns the registered platform tags in a stable order
func (r *Registry) Tags() []models.PlatformTag {
	tags := make([]models.PlatformTag, 0, len(r.adapters))
	for tag := range r.adapters {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// MapStatus translates a marketplace-native status token through the
// adapter's translation table. Unknown tokens map to fallback.
func MapStatus(token string, table map[string]models.ListingStatus, fallback models.ListingStatus) models.ListingStatus {
	if s, ok := table[strings.ToLower(strings.TrimSpace(token))]; ok {
		return s
	}
	return fallback
}

// NormalizePrice rounds a marketplace price to the canonical two-decimal
// GBP representation
func NormalizePrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// IntPtr returns a pointer to v; adapters use it for optional quantities
func IntPtr(v int) *int {
	return &v
}
