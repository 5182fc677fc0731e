package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/oakvale/gearsync/internal/platform"
)

// classify maps a database error onto the closed taxonomy. Callers see only
// Conflict (dedup index hit), Transient (the call can be retried) or Fatal
// (the database itself is unusable).
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicateKey(err) {
		return platform.Conflict(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return platform.Transient(op, err)
	}
	if isSerializationFailure(err) {
		return platform.Transient(op, err)
	}
	return platform.Fatal(op, err)
}

func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || // postgres
		strings.Contains(msg, "UNIQUE constraint failed") // sqlite
}

func isSerializationFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "could not serialize access")
}
