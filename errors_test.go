package stablepay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(NewError(KindValidation, "bad input", nil)))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := NewError(KindTransient, "timeout", nil)
	outer := fmt.Errorf("fetch balance: %w", inner)

	assert.Equal(t, KindTransient, KindOf(outer))
	assert.True(t, errors.Is(outer, ErrTransient))
	assert.False(t, errors.Is(outer, ErrUpstream))
}

func TestWrapErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(KindTransient, "provider request failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "provider request failed")
}

func TestErrorFields(t *testing.T) {
	err := NewError(KindInsufficientFunds, "insufficient wallet balance", map[string]interface{}{
		"requested": 10.0,
		"available": 1.0,
	})
	assert.Equal(t, 10.0, err.Fields["requested"])
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
}
