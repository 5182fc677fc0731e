package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
	"github.com/oakvale/gearsync/internal/repository"
)

// ErrRunTimeout reports that the run hit its wall-clock limit
var ErrRunTimeout = errors.New("sync run exceeded its wall-clock timeout")

// CoordinatorConfig tunes the run state machine
type CoordinatorConfig struct {
	DetectionConcurrency int
	DetectionTimeout     time.Duration
	RunTimeout           time.Duration
}

// Coordinator drives one sync run through its state machine: detection in
// parallel per marketplace, then a single-threaded reconciliation pass,
// then bounded-parallel dispatch. Only a FatalError aborts a run; every
// other failure lands on the affected event and the run finishes.
type Coordinator struct {
	config     CoordinatorConfig
	runs       *repository.RunRepository
	links      *repository.LinkRepository
	events     *repository.EventRepository
	registry   *platform.Registry
	diff       *DiffEngine
	writer     *EventWriter
	reconciler *Reconciler
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewCoordinator creates a coordinator
func NewCoordinator(
	config CoordinatorConfig,
	runs *repository.RunRepository,
	links *repository.LinkRepository,
	events *repository.EventRepository,
	registry *platform.Registry,
	diff *DiffEngine,
	writer *EventWriter,
	reconciler *Reconciler,
	dispatcher *Dispatcher,
	logger *zap.Logger,
) *Coordinator {
	if config.DetectionConcurrency <= 0 {
		config.DetectionConcurrency = 4
	}
	return &Coordinator{
		config:     config,
		runs:       runs,
		links:      links,
		events:     events,
		registry:   registry,
		diff:       diff,
		writer:     writer,
		reconciler: reconciler,
		dispatcher: dispatcher,
		logger:     logger.Named("coordinator"),
	}
}

// detectionOutcome is one marketplace's detection result
type detectionOutcome struct {
	platform models.PlatformTag
	written  int
	timedOut bool
	err      error
}

// Run executes one full sync run and returns the finalized run row. The
// returned error is non-nil only for aborts and run-level timeouts.
func (c *Coordinator) Run(ctx context.Context) (*models.SyncRun, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if c.config.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.config.RunTimeout)
		defer cancel()
	}

	run := &models.SyncRun{ID: uuid.New(), State: models.RunInit, StartedAt: time.Now()}
	if err := c.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	logger := c.logger.With(zap.String("runId", run.ID.String()))
	logger.Info("sync run started", zap.Int("platforms", len(c.registry.Tags())))

	summary := &models.RunSummary{}

	if err := c.transition(ctx, run, models.RunDetecting); err != nil {
		return c.abort(ctx, run, summary, err)
	}
	c.detect(runCtx, run, summary, logger)

	if err := runCtx.Err(); err != nil {
		return c.timeout(ctx, run, summary, logger)
	}

	if err := c.transition(ctx, run, models.RunReconciling); err != nil {
		return c.abort(ctx, run, summary, err)
	}
	decisions, err := c.reconciler.Reconcile(runCtx)
	if err != nil && platform.IsFatal(err) {
		return c.abort(ctx, run, summary, err)
	}
	if err := runCtx.Err(); err != nil {
		return c.timeout(ctx, run, summary, logger)
	}

	if err := c.transition(ctx, run, models.RunDispatching); err != nil {
		return c.abort(ctx, run, summary, err)
	}
	stats := c.dispatcher.Dispatch(runCtx, decisions)
	summary.ActionsAttempted = stats.Attempted
	summary.ActionsSucceeded = stats.Succeeded
	summary.ActionsFailed = stats.Failed

	if err := runCtx.Err(); err != nil {
		return c.timeout(ctx, run, summary, logger)
	}

	c.fillEventCounts(ctx, run.ID, summary)
	if err := c.runs.Finalize(ctx, run.ID, models.RunFinalized, summary); err != nil {
		return c.abort(ctx, run, summary, err)
	}
	run.State = models.RunFinalized

	logger.Info("sync run finalized",
		zap.Int("eventsDetected", summary.EventsDetected),
		zap.Int("actionsAttempted", summary.ActionsAttempted),
		zap.Int("actionsFailed", summary.ActionsFailed))
	return run, nil
}

// detect launches one detection task per enabled marketplace. Tasks are
// independent: a timeout or failure on one marketplace leaves a marker and
// the rest continue.
func (c *Coordinator) detect(ctx context.Context, run *models.SyncRun, summary *models.RunSummary, logger *zap.Logger) {
	tags := c.registry.Tags()
	outcomes := make(chan detectionOutcome, len(tags))

	sem := make(chan struct{}, c.config.DetectionConcurrency)
	var wg sync.WaitGroup
	for _, tag := range tags {
		wg.Add(1)
		sem <- struct{}{}
		go func(tag models.PlatformTag) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes <- c.detectPlatform(ctx, run.ID, tag)
		}(tag)
	}
	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		summary.EventsDetected += outcome.written
		if outcome.timedOut {
			summary.DetectionErrors++
			c.writeTimeoutMarker(ctx, run.ID, outcome.platform)
			logger.Warn("detection timed out", zap.String("platform", string(outcome.platform)))
			continue
		}
		if outcome.err != nil {
			summary.DetectionErrors++
			logger.Error("detection failed",
				zap.String("platform", string(outcome.platform)),
				zap.Error(outcome.err))
		}
	}
}

// detectPlatform runs fetch, diff and write for one marketplace under its
// own deadline
func (c *Coordinator) detectPlatform(ctx context.Context, runID uuid.UUID, tag models.PlatformTag) detectionOutcome {
	outcome := detectionOutcome{platform: tag}

	taskCtx := ctx
	var cancel context.CancelFunc
	if c.config.DetectionTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, c.config.DetectionTimeout)
		defer cancel()
	}

	adapter, err := c.registry.Get(tag)
	if err != nil {
		outcome.err = err
		return outcome
	}

	remote, err := adapter.FetchAll(taskCtx)
	if err != nil {
		outcome.err = err
		outcome.timedOut = errors.Is(taskCtx.Err(), context.DeadlineExceeded)
		return outcome
	}

	local, err := c.links.FetchLocalSnapshot(taskCtx, tag)
	if err != nil {
		outcome.err = err
		return outcome
	}

	result := c.diff.Diff(tag, remote, local)
	written, err := c.writer.Write(taskCtx, runID, result)
	outcome.written = written.Written
	if err != nil {
		outcome.err = err
		outcome.timedOut = errors.Is(taskCtx.Err(), context.DeadlineExceeded)
	}
	return outcome
}

// writeTimeoutMarker leaves a detection_timeout event so operators see the
// gap in coverage; the marker is never reconciled
func (c *Coordinator) writeTimeoutMarker(ctx context.Context, runID uuid.UUID, tag models.PlatformTag) {
	event := &models.SyncEvent{
		ID:           uuid.New(),
		SyncRunID:    runID,
		PlatformName: tag,
		ExternalID:   string(tag),
		ChangeType:   models.ChangeDetectionTimeout,
		Status:       models.EventError,
		ChangeData:   models.JSONB{"reason": "detection_timeout"},
		DetectedAt:   time.Now(),
	}
	if err := c.events.Insert(ctx, event); err != nil && !platform.IsConflict(err) {
		c.logger.Error("failed to write timeout marker",
			zap.String("platform", string(tag)),
			zap.Error(err))
	}
}

// Reprocess re-runs reconciliation and dispatch over the open events
// without a new detection pass
func (c *Coordinator) Reprocess(ctx context.Context, runID uuid.UUID) (*models.SyncRun, error) {
	run, err := c.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With(zap.String("runId", run.ID.String()))
	logger.Info("reprocessing run")

	decisions, err := c.reconciler.Reconcile(ctx)
	if err != nil && platform.IsFatal(err) {
		return run, err
	}
	stats := c.dispatcher.Dispatch(ctx, decisions)

	summary := &models.RunSummary{
		ActionsAttempted: stats.Attempted,
		ActionsSucceeded: stats.Succeeded,
		ActionsFailed:    stats.Failed,
	}
	c.fillEventCounts(ctx, run.ID, summary)
	if err := c.runs.Finalize(ctx, run.ID, models.RunFinalized, summary); err != nil {
		return run, err
	}
	run.State = models.RunFinalized
	return run, nil
}

func (c *Coordinator) transition(ctx context.Context, run *models.SyncRun, state models.RunState) error {
	run.State = state
	return c.runs.UpdateState(ctx, run.ID, state)
}

func (c *Coordinator) fillEventCounts(ctx context.Context, runID uuid.UUID, summary *models.RunSummary) {
	counts, err := c.events.CountByStatusForRun(ctx, runID)
	if err != nil {
		c.logger.Warn("failed to count run events", zap.Error(err))
		return
	}
	summary.EventsProcessed = counts[models.EventProcessed]
	summary.EventsPartial = counts[models.EventPartial]
	summary.EventsError = counts[models.EventError]
	summary.EventsSkipped = counts[models.EventSkipped]
}

// abort settles the run as ABORTED, capturing the work done so far
func (c *Coordinator) abort(ctx context.Context, run *models.SyncRun, summary *models.RunSummary, cause error) (*models.SyncRun, error) {
	c.logger.Error("sync run aborted", zap.String("runId", run.ID.String()), zap.Error(cause))
	c.fillEventCounts(ctx, run.ID, summary)
	if err := c.runs.Finalize(ctx, run.ID, models.RunAborted, summary); err != nil {
		c.logger.Error("failed to record abort", zap.Error(err))
	}
	run.State = models.RunAborted
	return run, cause
}

// timeout settles the run when the wall clock expires; work already done
// stays committed
func (c *Coordinator) timeout(ctx context.Context, run *models.SyncRun, summary *models.RunSummary, logger *zap.Logger) (*models.SyncRun, error) {
	logger.Warn("sync run timed out")
	c.fillEventCounts(ctx, run.ID, summary)
	if err := c.runs.Finalize(ctx, run.ID, models.RunAborted, summary); err != nil {
		logger.Error("failed to record timeout", zap.Error(err))
	}
	run.State = models.RunAborted
	return run, ErrRunTimeout
}
