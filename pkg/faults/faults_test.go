package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableTagging(t *testing.T) {
	base := errors.New("socket closed")
	err := Retryable(base)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, base)

	wrapped := fmt.Errorf("upload failed: %w", err)
	assert.True(t, IsRetryable(wrapped), "tag must survive wrapping")
}

func TestNonRetryableCarriesCode(t *testing.T) {
	err := NonRetryable("validation_errors", "validation errors")
	assert.True(t, IsNonRetryable(err))
	assert.False(t, IsRetryable(err))

	var ne *NonRetryableError
	assert.ErrorAs(t, err, &ne)
	assert.Equal(t, "validation_errors", ne.Code)
	assert.Contains(t, err.Error(), "validation_errors")
}

func TestRetryableNilPassthrough(t *testing.T) {
	assert.NoError(t, Retryable(nil))
	assert.NoError(t, FromStore(nil))
}

func TestFromStorePreservesExistingTags(t *testing.T) {
	terminal := NonRetryable("invalid_input", "bad row")
	assert.Same(t, terminal, FromStore(terminal))

	transient := Retryable(errors.New("throttled"))
	assert.Same(t, transient, FromStore(transient))
}

func TestFromStoreClassifiesContextErrors(t *testing.T) {
	assert.True(t, IsRetryable(FromStore(context.DeadlineExceeded)))
	assert.True(t, IsRetryable(FromStore(fmt.Errorf("dynamo: %w", context.Canceled))))
}
