package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("conversation not found")))
	assert.Equal(t, KindNotPermitted, KindOf(fmt.Errorf("edit: %w", NotPermitted("message cannot be edited"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestWrapKeepsKindAndCause(t *testing.T) {
	cause := errors.New("unique violation")
	err := Conflict("reaction changed concurrently").Wrap(cause)

	assert.True(t, Is(err, KindConflict))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "reaction changed concurrently", MessageOf(err))
}

func TestMessageOfHidesInternalDetails(t *testing.T) {
	err := Internal("load messages", errors.New("pq: connection refused"))

	assert.Equal(t, "internal server error", MessageOf(err))
	assert.Equal(t, "internal server error", MessageOf(errors.New("raw")))
	assert.Contains(t, err.Error(), "connection refused")
}
