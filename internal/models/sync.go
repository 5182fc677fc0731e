package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType classifies a single detected difference between remote and
// local state
type ChangeType string

const (
	ChangeNewListing       ChangeType = "new_listing"       // remote has a listing we do not recognize
	ChangeRemovedListing   ChangeType = "removed_listing"   // local ACTIVE listing missing from remote
	ChangeStatus           ChangeType = "status_change"     // remote status differs from local
	ChangePrice            ChangeType = "price"             // remote price drifted past the epsilon
	ChangeQuantity         ChangeType = "quantity_change"   // remote available quantity differs (stocked items)
	ChangeDetectionTimeout ChangeType = "detection_timeout" // marker: a detection task hit its deadline
)

// EventStatus is the lifecycle state of a sync event
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventProcessed EventStatus = "processed"
	EventPartial   EventStatus = "partial" // some target platforms failed; retried next run
	EventError     EventStatus = "error"
	EventSkipped   EventStatus = "skipped"
)

// IsTerminal reports whether the event has reached a final status
func (s EventStatus) IsTerminal() bool {
	switch s {
	case EventProcessed, EventError, EventSkipped:
		return true
	}
	return false
}

// RunState is the coordinator state machine position recorded on the run row
type RunState string

const (
	RunInit        RunState = "INIT"
	RunDetecting   RunState = "DETECTING"
	RunReconciling RunState = "RECONCILING"
	RunDispatching RunState = "DISPATCHING"
	RunFinalized   RunState = "FINALIZED"
	RunAborted     RunState = "ABORTED"
)

// SyncRun is one end-to-end invocation of detection, reconciliation and
// dispatch
type SyncRun struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	State      RunState   `gorm:"type:varchar(20);not null;default:'INIT'" json:"state"`
	StartedAt  time.Time  `gorm:"not null" json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// Summary counters, written once at FINALIZED
	Summary JSONB `gorm:"type:jsonb" json:"summary,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for SyncRun
func (SyncRun) TableName() string {
	return "sync_runs"
}

// RunSummary aggregates outcomes for one run
type RunSummary struct {
	EventsDetected   int `json:"eventsDetected"`
	EventsProcessed  int `json:"eventsProcessed"`
	EventsPartial    int `json:"eventsPartial"`
	EventsError      int `json:"eventsError"`
	EventsSkipped    int `json:"eventsSkipped"`
	ActionsAttempted int `json:"actionsAttempted"`
	ActionsSucceeded int `json:"actionsSucceeded"`
	ActionsFailed    int `json:"actionsFailed"`
	DetectionErrors  int `json:"detectionErrors"`
}

// ToJSONB converts the summary into the persisted form
func (s *RunSummary) ToJSONB() JSONB {
	return JSONB{
		"eventsDetected":   s.EventsDetected,
		"eventsProcessed":  s.EventsProcessed,
		"eventsPartial":    s.EventsPartial,
		"eventsError":      s.EventsError,
		"eventsSkipped":    s.EventsSkipped,
		"actionsAttempted": s.ActionsAttempted,
		"actionsSucceeded": s.ActionsSucceeded,
		"actionsFailed":    s.ActionsFailed,
		"detectionErrors":  s.DetectionErrors,
	}
}

// SyncEvent is one detected change awaiting (or finished with)
// reconciliation.
//
// The partial unique index over (platform_name, external_id, change_type)
// restricted to status='pending' is the deduplication primitive: concurrent
// runs may both detect the same drift, only one pending row survives.
type SyncEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SyncRunID uuid.UUID `gorm:"type:uuid;not null;index:idx_sync_events_run" json:"syncRunId"`

	PlatformName PlatformTag `gorm:"type:varchar(50);not null;uniqueIndex:uq_sync_events_pending,where:status = 'pending'" json:"platformName"`
	ExternalID   string      `gorm:"type:varchar(255);not null;uniqueIndex:uq_sync_events_pending,where:status = 'pending'" json:"externalId"`
	ChangeType   ChangeType  `gorm:"type:varchar(50);not null;uniqueIndex:uq_sync_events_pending,where:status = 'pending'" json:"changeType"`

	// ProductID is null for rogue listings until a human or a later run
	// confirms the link
	ProductID        *uint   `gorm:"index:idx_sync_events_product" json:"productId,omitempty"`
	PlatformCommonID *string `gorm:"type:varchar(255)" json:"platformCommonId,omitempty"`

	// ChangeData carries old/new values and the raw remote context
	ChangeData JSONB `gorm:"type:jsonb" json:"changeData,omitempty"`

	Status EventStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_sync_events_status" json:"status"`

	// Notes records the reconciliation trace: per-platform attempt results,
	// reasons, review flags. Later runs resume from it.
	Notes JSONB `gorm:"type:jsonb" json:"notes,omitempty"`

	DetectedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"detectedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// TableName specifies the table name for SyncEvent
func (SyncEvent) TableName() string {
	return "sync_events"
}

// AttemptResult is one outbound leg recorded in an event's notes under
// "attempts". The dispatcher consults previous attempts so a retried PARTIAL
// event does not redo legs that already succeeded.
type AttemptResult struct {
	Platform PlatformTag `json:"platform"`
	Action   string      `json:"action"`
	Outcome  string      `json:"outcome"` // ok | transient | permanent | skipped
	Reason   string      `json:"reason,omitempty"`
	Duration string      `json:"duration,omitempty"`
}
