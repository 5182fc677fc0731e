package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
	"github.com/oakvale/gearsync/internal/repository"
)

// EventWriter persists diff output as pending sync events. Two layers keep
// duplicates out: a pre-loaded snapshot of pending keys filters what this
// run already knows about, and the pending unique index absorbs races with
// concurrent runs.
type EventWriter struct {
	events  *repository.EventRepository
	matcher *Matcher
	logger  *zap.Logger
}

// NewEventWriter creates an event writer
func NewEventWriter(events *repository.EventRepository, matcher *Matcher, logger *zap.Logger) *EventWriter {
	return &EventWriter{
		events:  events,
		matcher: matcher,
		logger:  logger.Named("event_writer"),
	}
}

// WriteResult summarizes one write pass
type WriteResult struct {
	Written int
	Deduped int
}

// Write persists the detected changes for one marketplace
func (w *EventWriter) Write(ctx context.Context, runID uuid.UUID, result DiffResult) (WriteResult, error) {
	pending, err := w.events.FetchPendingKeys(ctx)
	if err != nil {
		return WriteResult{}, err
	}

	var out WriteResult
	write := func(change Change) error {
		key := repository.EventKey{
			PlatformName: change.Platform,
			ExternalID:   change.ExternalID,
			ChangeType:   change.Type,
		}.String()
		if pending[key] {
			out.Deduped++
			return nil
		}

		event := &models.SyncEvent{
			ID:           uuid.New(),
			SyncRunID:    runID,
			PlatformName: change.Platform,
			ExternalID:   change.ExternalID,
			ChangeType:   change.Type,
			ProductID:    change.ProductID,
			ChangeData:   change.Data,
			Status:       models.EventPending,
			DetectedAt:   time.Now(),
		}

		if change.Type == models.ChangeNewListing && change.ProductID == nil {
			w.attachMatchCandidate(ctx, event, change)
		}

		if err := w.events.Insert(ctx, event); err != nil {
			if platform.IsConflict(err) {
				// A concurrent run won the race; the dedup worked
				out.Deduped++
				return nil
			}
			return err
		}
		pending[key] = true
		out.Written++
		return nil
	}

	for _, change := range result.Updates {
		if err := write(change); err != nil {
			return out, err
		}
	}
	for _, change := range result.Removes {
		if err := write(change); err != nil {
			return out, err
		}
	}
	for _, change := range result.Creates {
		if err := write(change); err != nil {
			return out, err
		}
	}

	w.logger.Info("events written",
		zap.String("runId", runID.String()),
		zap.Int("written", out.Written),
		zap.Int("deduped", out.Deduped))
	return out, nil
}

// attachMatchCandidate asks the matcher for a likely product and records
// the suggestion on the event. The event keeps product_id NULL either way;
// confirming the link is a reconciler or operator decision.
func (w *EventWriter) attachMatchCandidate(ctx context.Context, event *models.SyncEvent, change Change) {
	title, _ := change.Data["title"].(string)
	price := decimal.Zero
	if p, ok := change.Data["price"].(string); ok {
		if parsed, err := decimal.NewFromString(p); err == nil {
			price = parsed
		}
	}

	candidate, err := w.matcher.Suggest(ctx, change.Platform, change.ExternalID, title, price)
	if err != nil {
		w.logger.Warn("match suggestion failed",
			zap.String("externalId", change.ExternalID),
			zap.Error(err))
		return
	}
	if candidate == nil {
		return
	}

	if event.ChangeData == nil {
		event.ChangeData = models.JSONB{}
	}
	event.ChangeData["match_candidate"] = map[string]interface{}(candidate.ToJSONB())

	if err := w.matcher.RecordHint(ctx, change.Platform, change.ExternalID, candidate); err != nil {
		w.logger.Warn("failed to record mapping hint",
			zap.String("externalId", change.ExternalID),
			zap.Error(err))
	}
}
