package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
	"github.com/oakvale/gearsync/internal/repository"
)

// ActionType names one outbound marketplace call
type ActionType string

const (
	ActionMarkSold       ActionType = "mark_sold"
	ActionUpdatePrice    ActionType = "update_price"
	ActionUpdateQuantity ActionType = "update_quantity"
)

// Action is one outbound call the dispatcher must make
type Action struct {
	Platform   models.PlatformTag
	ExternalID string
	LinkID     uint
	Type       ActionType
	Price      decimal.Decimal
	Quantity   int
	Hints      platform.QuantityHints
}

// Key identifies the action for the per-event attempt ledger
func (a Action) Key() string {
	return fmt.Sprintf("%s:%s", a.Platform, a.Type)
}

// Decision pairs an event with the outbound actions it requires. Local
// canonical mutations are already committed by the time a decision leaves
// the reconciler; only the outbound legs and the event's final status
// remain for the dispatcher.
type Decision struct {
	Event   models.SyncEvent
	Actions []Action
}

// PricePolicy resolves which side wins a price drift
type PricePolicy struct {
	Authority         string // canonical | last_writer_wins | per_platform
	AuthorityPlatform models.PlatformTag
}

// remoteWins reports whether the drifted remote price should be adopted
func (p PricePolicy) remoteWins(platformName models.PlatformTag) bool {
	switch p.Authority {
	case "last_writer_wins":
		return true
	case "per_platform":
		return platformName == p.AuthorityPlatform
	default:
		return false
	}
}

// Reconciler classifies open events, groups them by canonical product,
// applies local canonical mutations, and emits outbound decisions. It runs
// single-threaded; deterministic ordering is worth more here than speed.
type Reconciler struct {
	products *repository.ProductRepository
	links    *repository.LinkRepository
	events   *repository.EventRepository
	policy   PricePolicy
	epsilon  decimal.Decimal
	logger   *zap.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(
	products *repository.ProductRepository,
	links *repository.LinkRepository,
	events *repository.EventRepository,
	policy PricePolicy,
	priceEpsilon float64,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		products: products,
		links:    links,
		events:   events,
		policy:   policy,
		epsilon:  decimal.NewFromFloat(priceEpsilon),
		logger:   logger.Named("reconciler"),
	}
}

// Reconcile processes every open event (this run's plus carried-over
// partials) and returns the decisions that still need outbound work
func (r *Reconciler) Reconcile(ctx context.Context) ([]Decision, error) {
	open, err := r.events.FetchOpen(ctx)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}

	groups := groupByProduct(open)
	var decisions []Decision
	for _, group := range groups {
		groupDecisions, err := r.reconcileGroup(ctx, group)
		if err != nil {
			if platform.IsFatal(err) {
				return decisions, err
			}
			r.logger.Error("group reconciliation failed", zap.Error(err))
			continue
		}
		decisions = append(decisions, groupDecisions...)
	}
	return decisions, nil
}

// eventGroup is the set of open events referring to one canonical product
// (or one rogue listing when productID is nil)
type eventGroup struct {
	productID *uint
	events    []models.SyncEvent
}

// groupByProduct groups events; null-product events are isolated groups.
// Group order is deterministic: by product id, rogues last in detection
// order.
func groupByProduct(events []models.SyncEvent) []eventGroup {
	byProduct := map[uint]*eventGroup{}
	var productIDs []uint
	var rogues []eventGroup

	for _, e := range events {
		if e.ProductID == nil {
			rogues = append(rogues, eventGroup{events: []models.SyncEvent{e}})
			continue
		}
		g, ok := byProduct[*e.ProductID]
		if !ok {
			id := *e.ProductID
			g = &eventGroup{productID: &id}
			byProduct[id] = g
			productIDs = append(productIDs, id)
		}
		g.events = append(g.events, e)
	}

	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })
	out := make([]eventGroup, 0, len(productIDs)+len(rogues))
	for _, id := range productIDs {
		out = append(out, *byProduct[id])
	}
	return append(out, rogues...)
}

// changeRank orders events within a group: a sale wins, then other status
// news, then removals, discoveries, quantity, and price last
func changeRank(e models.SyncEvent) int {
	switch e.ChangeType {
	case models.ChangeStatus:
		if newStatus(e) == models.ListingSold {
			return 0
		}
		return 1
	case models.ChangeRemovedListing:
		return 2
	case models.ChangeNewListing:
		return 3
	case models.ChangeQuantity:
		return 4
	case models.ChangePrice:
		return 5
	default:
		return 6
	}
}

func (r *Reconciler) reconcileGroup(ctx context.Context, group eventGroup) ([]Decision, error) {
	events := append([]models.SyncEvent(nil), group.events...)
	sort.SliceStable(events, func(i, j int) bool { return changeRank(events[i]) < changeRank(events[j]) })

	groupHasSale := false
	for _, e := range events {
		if e.ChangeType == models.ChangeStatus && newStatus(e) == models.ListingSold {
			groupHasSale = true
			break
		}
	}

	var decisions []Decision
	for _, event := range events {
		// A simultaneous sale supersedes price reconciliation for the
		// same product
		if groupHasSale && event.ChangeType == models.ChangePrice {
			if err := r.finish(ctx, event, models.EventSkipped, "superseded_by_sold"); err != nil {
				return decisions, err
			}
			continue
		}

		decision, err := r.reconcileEvent(ctx, event)
		if err != nil {
			return decisions, err
		}
		if decision != nil {
			decisions = append(decisions, *decision)
		}
	}
	return decisions, nil
}

// reconcileEvent applies the decision table to one event. A nil decision
// means the event reached a terminal status without outbound work.
func (r *Reconciler) reconcileEvent(ctx context.Context, event models.SyncEvent) (*Decision, error) {
	switch event.ChangeType {
	case models.ChangeStatus:
		return r.reconcileStatusChange(ctx, event)
	case models.ChangePrice:
		return r.reconcilePrice(ctx, event)
	case models.ChangeQuantity:
		return r.reconcileQuantity(ctx, event)
	case models.ChangeNewListing:
		return nil, r.reconcileNewListing(ctx, event)
	case models.ChangeRemovedListing:
		return nil, r.reconcileRemovedListing(ctx, event)
	default:
		return nil, r.finish(ctx, event, models.EventError, "unknown_change_type")
	}
}

func (r *Reconciler) reconcileStatusChange(ctx context.Context, event models.SyncEvent) (*Decision, error) {
	if event.ProductID == nil {
		return nil, r.finish(ctx, event, models.EventError, "status_change_without_product")
	}
	product, links, err := r.loadProduct(ctx, *event.ProductID)
	if err != nil {
		return nil, err
	}

	remote := newStatus(event)
	source := findLink(links, event.PlatformName)
	if source == nil {
		return nil, r.finish(ctx, event, models.EventError, "no_link_for_platform")
	}

	// Already in agreement: a previous run's leg or an operator got here
	// first
	if models.StatusEqual(source.Status, remote) && remote != models.ListingSold {
		return nil, r.finish(ctx, event, models.EventSkipped, "matched_existing_state")
	}

	if err := r.links.UpdateFields(ctx, source.ID, map[string]interface{}{
		"status":      remote,
		"sync_status": models.LinkSyncSynced,
	}); err != nil {
		return nil, err
	}

	if remote != models.ListingSold {
		// ended / removed / back-to-active: local record only, nothing
		// propagates
		return nil, r.finish(ctx, event, models.EventProcessed, "")
	}

	// A sale: commit the canonical outcome once, then fan out
	notes := eventNotes(event)
	if !notes.canonicalApplied() {
		if err := r.applySale(ctx, product, event); err != nil {
			return nil, err
		}
		notes.setCanonicalApplied()
		if err := r.events.UpdateStatus(ctx, event.ID, event.Status, notes.JSONB()); err != nil {
			return nil, err
		}
	}

	var actions []Action
	for _, link := range links {
		if link.PlatformName == event.PlatformName || link.Status != models.ListingActive || link.ExternalID == nil {
			continue
		}
		actions = append(actions, Action{
			Platform:   link.PlatformName,
			ExternalID: *link.ExternalID,
			LinkID:     link.ID,
			Type:       ActionMarkSold,
		})
	}
	if len(actions) == 0 {
		return nil, r.finish(ctx, event, models.EventProcessed, "")
	}
	return &Decision{Event: event, Actions: actions}, nil
}

// applySale commits the canonical consequence of a sale on one marketplace
func (r *Reconciler) applySale(ctx context.Context, product *models.Product, event models.SyncEvent) error {
	if !product.IsStockedItem {
		return r.products.UpdateFields(ctx, product.ID, map[string]interface{}{
			"status":   models.ProductSold,
			"quantity": 0,
		})
	}

	sold := 1
	if qty, ok := event.ChangeData["quantitySold"].(float64); ok && int(qty) > 0 {
		sold = int(qty)
	}
	remaining := product.Quantity - sold
	if remaining < 0 {
		remaining = 0
	}
	fields := map[string]interface{}{"quantity": remaining}
	if remaining == 0 {
		fields["status"] = models.ProductSold
	}
	return r.products.UpdateFields(ctx, product.ID, fields)
}

func (r *Reconciler) reconcilePrice(ctx context.Context, event models.SyncEvent) (*Decision, error) {
	if event.ProductID == nil {
		return nil, r.finish(ctx, event, models.EventError, "price_without_product")
	}
	product, links, err := r.loadProduct(ctx, *event.ProductID)
	if err != nil {
		return nil, err
	}

	// Sold canonical state ends price reconciliation for good
	if product.Status == models.ProductSold && !product.IsStockedItem {
		return nil, r.finish(ctx, event, models.EventSkipped, "product_sold")
	}

	remotePrice, err := priceFromEvent(event, "new")
	if err != nil {
		return nil, r.finish(ctx, event, models.EventError, "malformed_price_payload")
	}

	if r.policy.remoteWins(event.PlatformName) {
		return r.adoptRemotePrice(ctx, event, product, links, remotePrice)
	}

	// Canonical is authority: the drifted marketplace is restored
	canonical := product.CanonicalPrice()
	if remotePrice.Sub(canonical).Abs().LessThanOrEqual(r.epsilon) {
		return nil, r.finish(ctx, event, models.EventSkipped, "matched_existing_state")
	}

	source := findLink(links, event.PlatformName)
	if source == nil || source.ExternalID == nil {
		return nil, r.finish(ctx, event, models.EventError, "no_link_for_platform")
	}
	if source.Status != models.ListingActive {
		return nil, r.finish(ctx, event, models.EventSkipped, "listing_not_active")
	}

	return &Decision{
		Event: event,
		Actions: []Action{{
			Platform:   event.PlatformName,
			ExternalID: *source.ExternalID,
			LinkID:     source.ID,
			Type:       ActionUpdatePrice,
			Price:      canonical,
		}},
	}, nil
}

// adoptRemotePrice makes the drifted price canonical and pushes it to the
// other active marketplaces
func (r *Reconciler) adoptRemotePrice(ctx context.Context, event models.SyncEvent, product *models.Product, links []models.PlatformLink, remotePrice decimal.Decimal) (*Decision, error) {
	notes := eventNotes(event)
	if !notes.canonicalApplied() {
		if err := r.products.UpdateFields(ctx, product.ID, map[string]interface{}{
			"base_price":       remotePrice,
			"specialist_price": nil,
		}); err != nil {
			return nil, err
		}
		notes.setCanonicalApplied()
		if err := r.events.UpdateStatus(ctx, event.ID, event.Status, notes.JSONB()); err != nil {
			return nil, err
		}
	}

	var actions []Action
	for _, link := range links {
		if link.PlatformName == event.PlatformName || link.Status != models.ListingActive || link.ExternalID == nil {
			continue
		}
		actions = append(actions, Action{
			Platform:   link.PlatformName,
			ExternalID: *link.ExternalID,
			LinkID:     link.ID,
			Type:       ActionUpdatePrice,
			Price:      remotePrice,
		})
	}
	if len(actions) == 0 {
		return nil, r.finish(ctx, event, models.EventProcessed, "")
	}
	return &Decision{Event: event, Actions: actions}, nil
}

func (r *Reconciler) reconcileQuantity(ctx context.Context, event models.SyncEvent) (*Decision, error) {
	if event.ProductID == nil {
		return nil, r.finish(ctx, event, models.EventError, "quantity_without_product")
	}
	product, links, err := r.loadProduct(ctx, *event.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsStockedItem {
		return nil, r.finish(ctx, event, models.EventSkipped, "not_a_stocked_item")
	}
	if product.Status == models.ProductSold {
		return nil, r.finish(ctx, event, models.EventSkipped, "product_sold")
	}

	newQty, ok := intFromEvent(event, "new")
	if !ok {
		return nil, r.finish(ctx, event, models.EventError, "malformed_quantity_payload")
	}
	if newQty < 0 {
		newQty = 0
	}

	notes := eventNotes(event)
	if !notes.canonicalApplied() {
		fields := map[string]interface{}{"quantity": newQty}
		if newQty == 0 {
			fields["status"] = models.ProductSold
		}
		if err := r.products.UpdateFields(ctx, product.ID, fields); err != nil {
			return nil, err
		}
		notes.setCanonicalApplied()
		if err := r.events.UpdateStatus(ctx, event.ID, event.Status, notes.JSONB()); err != nil {
			return nil, err
		}
	}

	var actions []Action
	for _, link := range links {
		if link.PlatformName == event.PlatformName || link.Status != models.ListingActive || link.ExternalID == nil {
			continue
		}
		actions = append(actions, Action{
			Platform:   link.PlatformName,
			ExternalID: *link.ExternalID,
			LinkID:     link.ID,
			Type:       ActionUpdateQuantity,
			Quantity:   newQty,
		})
	}
	if len(actions) == 0 {
		return nil, r.finish(ctx, event, models.EventProcessed, "")
	}
	return &Decision{Event: event, Actions: actions}, nil
}

// reconcileNewListing links a discovered remote listing to its product
// when the link is known or has been operator-confirmed; otherwise the
// event stays pending for review
func (r *Reconciler) reconcileNewListing(ctx context.Context, event models.SyncEvent) error {
	productID := event.ProductID

	if productID == nil {
		hint, err := r.products.GetMappingHint(ctx, event.PlatformName, event.ExternalID)
		if err != nil {
			return err
		}
		if hint != nil && hint.ConfirmedBy != "" {
			productID = &hint.ProductID
			if err := r.events.AttachProduct(ctx, event.ID, hint.ProductID); err != nil {
				return err
			}
		}
	}

	if productID == nil {
		// Rogue listing: the match candidate annotation is already on the
		// event; a human resolves it
		r.logger.Info("rogue listing awaiting operator match",
			zap.String("platform", string(event.PlatformName)),
			zap.String("externalId", event.ExternalID))
		return nil
	}

	listingURL, _ := event.ChangeData["listingUrl"].(string)
	externalID := event.ExternalID

	existing := (*models.PlatformLink)(nil)
	if links, err := r.links.GetForProduct(ctx, *productID); err == nil {
		existing = findLink(links, event.PlatformName)
	}
	if existing != nil {
		if err := r.links.UpdateFields(ctx, existing.ID, map[string]interface{}{
			"external_id": externalID,
			"status":      models.ListingActive,
			"listing_url": listingURL,
			"sync_status": models.LinkSyncSynced,
		}); err != nil {
			return err
		}
	} else {
		if err := r.links.Create(ctx, &models.PlatformLink{
			ProductID:    *productID,
			PlatformName: event.PlatformName,
			ExternalID:   &externalID,
			Status:       models.ListingActive,
			ListingURL:   listingURL,
			SyncStatus:   models.LinkSyncSynced,
		}); err != nil {
			return err
		}
	}
	return r.finish(ctx, event, models.EventProcessed, "")
}

// reconcileRemovedListing records the disappearance; removal is never
// treated as a sale because it may be operator error on the marketplace
func (r *Reconciler) reconcileRemovedListing(ctx context.Context, event models.SyncEvent) error {
	if event.ProductID == nil {
		return r.finish(ctx, event, models.EventError, "removed_without_product")
	}
	product, links, err := r.loadProduct(ctx, *event.ProductID)
	if err != nil {
		return err
	}

	source := findLink(links, event.PlatformName)
	if source == nil {
		return r.finish(ctx, event, models.EventError, "no_link_for_platform")
	}
	if source.Status == models.ListingRemoved {
		return r.finish(ctx, event, models.EventSkipped, "matched_existing_state")
	}

	if err := r.links.UpdateFields(ctx, source.ID, map[string]interface{}{
		"status": models.ListingRemoved,
	}); err != nil {
		return err
	}

	activeRemaining := 0
	for _, link := range links {
		if link.ID != source.ID && link.Status == models.ListingActive {
			activeRemaining++
		}
	}

	notes := eventNotes(event)
	if activeRemaining == 0 && !product.IsStockedItem {
		notes.set("needs_review", true)
		notes.set("reason", "last_active_listing_removed")
	}
	return r.events.UpdateStatus(ctx, event.ID, models.EventProcessed, notes.JSONB())
}

// finish moves an event to a terminal status with an optional reason
func (r *Reconciler) finish(ctx context.Context, event models.SyncEvent, status models.EventStatus, reason string) error {
	notes := eventNotes(event)
	if reason != "" {
		notes.set("reason", reason)
	}
	return r.events.UpdateStatus(ctx, event.ID, status, notes.JSONB())
}

func (r *Reconciler) loadProduct(ctx context.Context, productID uint) (*models.Product, []models.PlatformLink, error) {
	product, err := r.products.GetByID(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	links, err := r.links.GetForProduct(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	return product, links, nil
}

func findLink(links []models.PlatformLink, platformName models.PlatformTag) *models.PlatformLink {
	for i := range links {
		if links[i].PlatformName == platformName {
			return &links[i]
		}
	}
	return nil
}

func newStatus(e models.SyncEvent) models.ListingStatus {
	s, _ := e.ChangeData["new"].(string)
	return models.ListingStatus(s)
}

func priceFromEvent(e models.SyncEvent, key string) (decimal.Decimal, error) {
	raw, ok := e.ChangeData[key].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("no %s price in change data", key)
	}
	return decimal.NewFromString(raw)
}

func intFromEvent(e models.SyncEvent, key string) (int, bool) {
	switch v := e.ChangeData[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
