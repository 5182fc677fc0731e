package services

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
	"github.com/oakvale/gearsync/internal/repository"
)

// Change is one detected difference between a marketplace and the canonical
// state, ready to be persisted as a sync event
type Change struct {
	Platform   models.PlatformTag
	Type       models.ChangeType
	ExternalID string
	ProductID  *uint
	Data       models.JSONB
}

// DiffResult partitions the detected changes the way the event writer
// consumes them
type DiffResult struct {
	Creates []Change // remote-only listings (new_listing)
	Updates []Change // drifted listings (status_change, quantity_change, price)
	Removes []Change // local-only listings (removed_listing)
}

// Count returns the total number of detected changes
func (r DiffResult) Count() int {
	return len(r.Creates) + len(r.Updates) + len(r.Removes)
}

// DiffEngine compares a remote snapshot against the local snapshot. It is a
// pure function of its inputs: no I/O, no clock, no randomness.
type DiffEngine struct {
	priceEpsilon decimal.Decimal
}

// NewDiffEngine creates a diff engine with the given price epsilon
func NewDiffEngine(priceEpsilon float64) *DiffEngine {
	return &DiffEngine{priceEpsilon: decimal.NewFromFloat(priceEpsilon)}
}

// Diff computes the ordered change set between one marketplace's snapshot
// and the local rows for that marketplace
func (e *DiffEngine) Diff(platformName models.PlatformTag, remote []platform.RemoteListing, local []repository.LocalListingRow) DiffResult {
	remoteByID := make(map[string]platform.RemoteListing, len(remote))
	for _, r := range remote {
		if r.ExternalID != "" {
			remoteByID[r.ExternalID] = r
		}
	}
	// Rows still waiting for an external id cannot be keyed; they are
	// in-flight creations and never produce removes
	localByID := make(map[string]repository.LocalListingRow, len(local))
	for _, l := range local {
		if l.Link.ExternalID != nil && *l.Link.ExternalID != "" {
			localByID[*l.Link.ExternalID] = l
		}
	}

	var result DiffResult

	for _, r := range remote {
		if r.ExternalID == "" {
			continue
		}
		row, known := localByID[r.ExternalID]
		if !known {
			// Off-market remote-only listings are ignored: we do not
			// fabricate history for things that already ended elsewhere
			if r.Status == models.ListingActive {
				result.Creates = append(result.Creates, newListingChange(platformName, r))
			}
			continue
		}
		result.Updates = append(result.Updates, e.compare(platformName, r, row)...)
	}

	for externalID, row := range localByID {
		if _, present := remoteByID[externalID]; present {
			continue
		}
		if row.Link.Status != models.ListingActive {
			continue
		}
		result.Removes = append(result.Removes, Change{
			Platform:   platformName,
			Type:       models.ChangeRemovedListing,
			ExternalID: externalID,
			ProductID:  uintPtr(row.Product.ID),
			Data: models.JSONB{
				"localStatus": string(row.Link.Status),
				"listingUrl":  row.Link.ListingURL,
			},
		})
	}

	return result
}

// compare applies the drift rules to one listing present on both sides.
// Order matters: a status drift stops all further checks, and nothing past
// status is checked for listings that are not locally active.
func (e *DiffEngine) compare(platformName models.PlatformTag, r platform.RemoteListing, row repository.LocalListingRow) []Change {
	urlDrift := r.ListingURL != "" && r.ListingURL != row.Link.ListingURL

	if !models.StatusEqual(r.Status, row.Link.Status) {
		data := models.JSONB{
			"old": string(row.Link.Status),
			"new": string(r.Status),
			"raw": rawPayload(r),
		}
		if soldQty := quantitySold(r); soldQty != nil {
			data["quantitySold"] = *soldQty
		}
		if urlDrift {
			data["listingUrl"] = r.ListingURL
		}
		return []Change{{
			Platform:   platformName,
			Type:       models.ChangeStatus,
			ExternalID: r.ExternalID,
			ProductID:  uintPtr(row.Product.ID),
			Data:       data,
		}}
	}

	if row.Link.Status != models.ListingActive {
		return nil
	}

	var changes []Change

	if row.Product.IsStockedItem && r.QuantityAvailable != nil && *r.QuantityAvailable != row.Product.Quantity {
		changes = append(changes, Change{
			Platform:   platformName,
			Type:       models.ChangeQuantity,
			ExternalID: r.ExternalID,
			ProductID:  uintPtr(row.Product.ID),
			Data: models.JSONB{
				"old": row.Product.Quantity,
				"new": *r.QuantityAvailable,
				"raw": rawPayload(r),
			},
		})
	}

	canonical := row.Product.CanonicalPrice()
	if r.Price.Sub(canonical).Abs().GreaterThan(e.priceEpsilon) {
		data := models.JSONB{
			"old": canonical.StringFixed(2),
			"new": r.Price.StringFixed(2),
			"raw": rawPayload(r),
		}
		if urlDrift {
			data["listingUrl"] = r.ListingURL
		}
		changes = append(changes, Change{
			Platform:   platformName,
			Type:       models.ChangePrice,
			ExternalID: r.ExternalID,
			ProductID:  uintPtr(row.Product.ID),
			Data:       data,
		})
	}

	return changes
}

func newListingChange(platformName models.PlatformTag, r platform.RemoteListing) Change {
	return Change{
		Platform:   platformName,
		Type:       models.ChangeNewListing,
		ExternalID: r.ExternalID,
		Data: models.JSONB{
			"title":      r.Title,
			"price":      r.Price.StringFixed(2),
			"listingUrl": r.ListingURL,
			"raw":        rawPayload(r),
		},
	}
}

// rawPayload converts the adapter's preserved payload into a JSON value the
// event row can carry
func rawPayload(r platform.RemoteListing) interface{} {
	if len(r.Raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(r.Raw, &v); err != nil {
		return string(r.Raw)
	}
	return v
}

func quantitySold(r platform.RemoteListing) *int {
	return r.QuantitySold
}

func uintPtr(v uint) *uint {
	if v == 0 {
		return nil
	}
	return &v
}
