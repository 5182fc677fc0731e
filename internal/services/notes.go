package services

import (
	"github.com/oakvale/gearsync/internal/models"
)

// notesView wraps an event's notes JSON: the reconciliation trace carrying
// per-platform attempt outcomes, the canonical-applied marker, and
// human-readable reasons. Later runs resume from it.
type notesView struct {
	data models.JSONB
}

func eventNotes(e models.SyncEvent) *notesView {
	data := e.Notes
	if data == nil {
		data = models.JSONB{}
	}
	return &notesView{data: data}
}

// JSONB returns the persisted form
func (n *notesView) JSONB() models.JSONB {
	return n.data
}

func (n *notesView) set(key string, value interface{}) {
	n.data[key] = value
}

// canonicalApplied reports whether this event's canonical mutation has
// already been committed by an earlier pass; it must never run twice
func (n *notesView) canonicalApplied() bool {
	applied, _ := n.data["canonical_applied"].(bool)
	return applied
}

func (n *notesView) setCanonicalApplied() {
	n.data["canonical_applied"] = true
}

// attemptOutcome returns the recorded outcome for one outbound leg, or ""
func (n *notesView) attemptOutcome(key string) string {
	attempts, ok := n.data["attempts"].(map[string]interface{})
	if !ok {
		return ""
	}
	attempt, ok := attempts[key].(map[string]interface{})
	if !ok {
		return ""
	}
	outcome, _ := attempt["outcome"].(string)
	return outcome
}

// recordAttempt stores one outbound leg's result under attempts
func (n *notesView) recordAttempt(key string, result models.AttemptResult) {
	attempts, ok := n.data["attempts"].(map[string]interface{})
	if !ok {
		attempts = map[string]interface{}{}
		n.data["attempts"] = attempts
	}
	attempts[key] = map[string]interface{}{
		"platform": string(result.Platform),
		"action":   result.Action,
		"outcome":  result.Outcome,
		"reason":   result.Reason,
		"duration": result.Duration,
	}
}
