package platform

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsAreDistinct(t *testing.T) {
	transient := Transient("fetch", errors.New("timeout"))
	permanent := Permanent("create", "brand_not_accepted", nil)
	notFound := NotFound("update price", "123")
	conflict := Conflict("event insert", errors.New("duplicate"))
	fatal := Fatal("migrate", errors.New("connection refused"))

	assert.True(t, IsTransient(transient))
	assert.False(t, IsTransient(permanent))

	assert.True(t, IsPermanent(permanent))
	assert.Equal(t, "brand_not_accepted", PermanentReason(permanent))
	assert.Empty(t, PermanentReason(transient))

	assert.True(t, IsNotFound(notFound))
	assert.True(t, IsConflict(conflict))
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsFatal(transient))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("during dispatch: %w", Transient("call", errors.New("503")))
	assert.True(t, IsTransient(wrapped))

	wrappedPermanent := fmt.Errorf("leg failed: %w", Permanent("call", "rejected", nil))
	assert.Equal(t, "rejected", PermanentReason(wrappedPermanent))
}

func TestRetryAfterOf(t *testing.T) {
	err := &TransientError{Op: "fetch", Err: errors.New("429"), RetryAfter: 7 * time.Second}
	assert.Equal(t, 7*time.Second, RetryAfterOf(err))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}
