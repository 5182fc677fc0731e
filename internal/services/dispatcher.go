package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
	"github.com/oakvale/gearsync/internal/repository"
)

// DispatchStats aggregates outbound outcomes for the run summary
type DispatchStats struct {
	mu        sync.Mutex
	Attempted int
	Succeeded int
	Failed    int
}

func (s *DispatchStats) record(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempted++
	switch outcome {
	case outcomeOK, outcomeSkipped:
		s.Succeeded++
	default:
		s.Failed++
	}
}

const (
	outcomeOK        = "ok"
	outcomeSkipped   = "skipped"
	outcomeTransient = "transient"
	outcomePermanent = "permanent"
)

// Dispatcher executes the reconciler's outbound decisions through the
// adapters. Decisions for different products run in parallel up to the
// fan-out cap; decisions for the same product run sequentially so the
// reconciler's intra-product ordering survives.
type Dispatcher struct {
	registry    *platform.Registry
	links       *repository.LinkRepository
	events      *repository.EventRepository
	retrier     *platform.Retrier
	concurrency int
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(
	registry *platform.Registry,
	links *repository.LinkRepository,
	events *repository.EventRepository,
	concurrency int,
	callTimeout time.Duration,
	logger *zap.Logger,
) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Dispatcher{
		registry:    registry,
		links:       links,
		events:      events,
		retrier:     platform.NewRetrier(nil),
		concurrency: concurrency,
		callTimeout: callTimeout,
		logger:      logger.Named("dispatcher"),
	}
}

// Dispatch executes all decisions and returns aggregate stats
func (d *Dispatcher) Dispatch(ctx context.Context, decisions []Decision) *DispatchStats {
	stats := &DispatchStats{}
	if len(decisions) == 0 {
		return stats
	}

	groups := groupDecisionsByProduct(decisions)

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for _, group := range groups {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(group []Decision) {
			defer wg.Done()
			defer func() { <-sem }()
			for _, decision := range group {
				if ctx.Err() != nil {
					return
				}
				d.dispatchDecision(ctx, decision, stats)
			}
		}(group)
	}
	wg.Wait()
	return stats
}

// groupDecisionsByProduct keeps same-product decisions in one serial lane
func groupDecisionsByProduct(decisions []Decision) [][]Decision {
	byProduct := map[uint][]Decision{}
	var isolated [][]Decision
	var order []uint

	for _, decision := range decisions {
		if decision.Event.ProductID == nil {
			isolated = append(isolated, []Decision{decision})
			continue
		}
		id := *decision.Event.ProductID
		if _, seen := byProduct[id]; !seen {
			order = append(order, id)
		}
		byProduct[id] = append(byProduct[id], decision)
	}

	out := make([][]Decision, 0, len(order)+len(isolated))
	for _, id := range order {
		out = append(out, byProduct[id])
	}
	return append(out, isolated...)
}

// dispatchDecision runs one event's outbound legs in order and settles the
// event's terminal status from their outcomes
func (d *Dispatcher) dispatchDecision(ctx context.Context, decision Decision, stats *DispatchStats) {
	notes := eventNotes(decision.Event)
	anyTransient := false
	anyPermanent := false

	for _, action := range decision.Actions {
		key := action.Key()
		if notes.attemptOutcome(key) == outcomeOK {
			// A previous run already landed this leg
			continue
		}

		result := d.executeAction(ctx, action)
		notes.recordAttempt(key, result)
		stats.record(result.Outcome)

		switch result.Outcome {
		case outcomeTransient:
			anyTransient = true
		case outcomePermanent:
			anyPermanent = true
			notes.set("reason", result.Reason)
		}
	}

	status := models.EventProcessed
	switch {
	case anyPermanent:
		status = models.EventError
	case anyTransient:
		status = models.EventPartial
	}

	if err := d.events.UpdateStatus(ctx, decision.Event.ID, status, notes.JSONB()); err != nil {
		d.logger.Error("failed to settle event",
			zap.String("eventId", decision.Event.ID.String()),
			zap.Error(err))
	}
}

// executeAction performs one adapter call with retry and timeout and
// writes back local state on success
func (d *Dispatcher) executeAction(ctx context.Context, action Action) models.AttemptResult {
	result := models.AttemptResult{
		Platform: action.Platform,
		Action:   string(action.Type),
	}
	start := time.Now()
	defer func() { result.Duration = time.Since(start).Round(time.Millisecond).String() }()

	adapter, err := d.registry.Get(action.Platform)
	if err != nil {
		result.Outcome = outcomePermanent
		result.Reason = "no_adapter"
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	var alreadyClosed bool
	err = d.retrier.Do(callCtx, func(ctx context.Context) error {
		switch action.Type {
		case ActionMarkSold:
			var callErr error
			alreadyClosed, callErr = adapter.MarkAsSold(ctx, action.ExternalID)
			return callErr
		case ActionUpdatePrice:
			return adapter.UpdatePrice(ctx, action.ExternalID, action.Price)
		case ActionUpdateQuantity:
			if action.Quantity > 0 && !adapter.SupportsMultiQuantity() {
				return platform.Permanent("dispatch", "single_quantity_only",
					fmt.Errorf("%s cannot hold quantity %d", action.Platform, action.Quantity))
			}
			return adapter.UpdateQuantity(ctx, action.ExternalID, action.Quantity, action.Hints)
		default:
			return platform.Permanent("dispatch", "unknown_action", nil)
		}
	})

	switch {
	case err == nil:
		result.Outcome = outcomeOK
		if alreadyClosed {
			result.Reason = "already_closed"
		}
		d.writeBack(ctx, action)
	case platform.IsNotFound(err):
		if action.Type == ActionMarkSold {
			// The remote already has no such listing: desired state reached
			result.Outcome = outcomeOK
			result.Reason = "remote_listing_missing"
			d.writeBack(ctx, action)
		} else {
			// Drift: the next detection pass will surface a removed_listing
			result.Outcome = outcomeSkipped
			result.Reason = "remote_listing_missing"
		}
	case platform.IsTransient(err):
		result.Outcome = outcomeTransient
		result.Reason = err.Error()
	default:
		result.Outcome = outcomePermanent
		reason := platform.PermanentReason(err)
		if reason == "" {
			reason = err.Error()
		}
		result.Reason = reason
	}

	d.logger.Debug("action executed",
		zap.String("platform", string(action.Platform)),
		zap.String("action", string(action.Type)),
		zap.String("externalId", action.ExternalID),
		zap.String("outcome", result.Outcome))
	return result
}

// writeBack records the new remote reality on the link so the next run's
// diff does not re-detect the change
func (d *Dispatcher) writeBack(ctx context.Context, action Action) {
	now := time.Now()
	fields := map[string]interface{}{
		"last_sync":   &now,
		"sync_status": models.LinkSyncSynced,
	}
	switch action.Type {
	case ActionMarkSold:
		fields["status"] = models.ListingSold
	case ActionUpdateQuantity:
		if action.Quantity == 0 {
			fields["status"] = models.ListingEnded
		}
	}

	if err := d.links.UpdateFields(ctx, action.LinkID, fields); err != nil {
		d.logger.Error("failed to write back link state",
			zap.Uint("linkId", action.LinkID),
			zap.Error(err))
	}
}
