package models

import (
	"database/sql/driver"
	"encoding/json"
)

// PlatformTag identifies one of the supported marketplaces
type PlatformTag string

const (
	PlatformAuctionHouse PlatformTag = "AUCTION_HOUSE" // legacy trading-call XML API
	PlatformGearExchange PlatformTag = "GEAR_EXCHANGE" // JSON REST API
	PlatformWebStore     PlatformTag = "WEB_STORE"     // GraphQL admin API
	PlatformVintageMart  PlatformTag = "VINTAGE_MART"  // form-post + scraped HTML
)

// AllPlatforms lists every supported marketplace in a stable order
func AllPlatforms() []PlatformTag {
	return []PlatformTag{PlatformAuctionHouse, PlatformGearExchange, PlatformWebStore, PlatformVintageMart}
}

// ListingStatus is the universal status vocabulary. Every marketplace-native
// status token is translated into this set at the adapter boundary; nothing
// downstream of an adapter ever sees a raw marketplace token.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingEnded     ListingStatus = "ended"
	ListingDraft     ListingStatus = "draft"
	ListingRemoved   ListingStatus = "removed"
	ListingRefreshed ListingStatus = "refreshed"
)

// offMarket is the equivalence class of statuses that all mean "no longer
// purchasable". The diff engine treats any two members as equal.
var offMarket = map[ListingStatus]bool{
	ListingSold:    true,
	ListingEnded:   true,
	ListingRemoved: true,
	"deleted":      true,
	"archived":     true,
}

// IsOffMarket reports whether a status belongs to the off-market equivalence class
func (s ListingStatus) IsOffMarket() bool {
	return offMarket[s]
}

// StatusEqual compares two universal statuses, collapsing the off-market class
func StatusEqual(a, b ListingStatus) bool {
	if a == b {
		return true
	}
	return a.IsOffMarket() && b.IsOffMarket()
}

// LinkSyncStatus tracks whether a platform link reflects the last push
type LinkSyncStatus string

const (
	LinkSyncPending LinkSyncStatus = "PENDING"
	LinkSyncSynced  LinkSyncStatus = "SYNCED"
	LinkSyncFailed  LinkSyncStatus = "FAILED"
)

// JSONB custom type for PostgreSQL JSONB
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(j))
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*j = JSONB(m)
	return nil
}
