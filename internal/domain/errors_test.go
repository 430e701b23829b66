package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrors(t *testing.T) {
	cause := errors.New("open models/empathy.yaml: no such file")

	tests := []struct {
		name     string
		err      error
		sentinel error
		wantMsg  string
	}{
		{
			name:     "feature shape",
			err:      NewFeatureShapeError("empathy", 26, 25, "vector length does not match schema"),
			sentinel: ErrFeatureShape,
			wantMsg:  "feature shape error: skill=empathy, expected=26, got=25: vector length does not match schema",
		},
		{
			name:     "model unavailable",
			err:      NewModelUnavailableError("empathy", cause),
			sentinel: ErrModelUnavailable,
			wantMsg:  "model unavailable: skill=empathy, err=open models/empathy.yaml: no such file",
		},
		{
			name:     "model unavailable without cause",
			err:      NewModelUnavailableError("empathy", nil),
			sentinel: ErrModelUnavailable,
			wantMsg:  "model unavailable: skill=empathy",
		},
		{
			name:     "no sources",
			err:      NewNoSourcesError("empathy", 2),
			sentinel: ErrNoSources,
			wantMsg:  "no sources: skill=empathy, offered=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.True(t, IsFatal(tt.err))
			assert.True(t, IsFatal(fmt.Errorf("unit s-1/empathy: %w", tt.err)), "wrapped errors stay fatal")
		})
	}

	assert.ErrorIs(t, NewModelUnavailableError("empathy", cause), cause)
}

func TestIsFatal_NonFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(errors.New("upstream timeout")))
	assert.False(t, IsFatal(ErrUnknownSkill))
	assert.False(t, IsFatal(NewValidationError("weights")))
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("fusion weights")
		err.AddError("negative weight")

		assert.Equal(t, "validation error for fusion weights: negative weight", err.Error())
		assert.True(t, err.HasErrors())
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("config")
		err.AddError("skill empathy: duplicate feature")
		err.AddError("skill humour: bad profile")

		assert.Contains(t, err.Error(), "validation errors for config")
		assert.Len(t, err.Errors, 2)
	})

	t.Run("no errors", func(t *testing.T) {
		err := NewValidationError("config")

		assert.False(t, err.HasErrors())
		assert.Empty(t, err.Errors)
	})
}
