package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs_MatchesByCode(t *testing.T) {
	err := NotFoundf("session %d", 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidState)
}

func TestErrorIs_SurvivesWrapping(t *testing.T) {
	inner := StaleEditf("later settlement exists for user %d", 7)
	wrapped := fmt.Errorf("correct outcome: %w", inner)

	assert.ErrorIs(t, wrapped, ErrStaleEdit)
	assert.Equal(t, CodeStaleEdit, CodeOf(wrapped))
}

func TestWrapf_PreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrapf(CodeNotFound, cause, "load season %d", 3)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCodeOf_NonDomainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}
