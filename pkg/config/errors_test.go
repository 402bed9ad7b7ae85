package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		contains []string
	}{
		{
			name:     "missing field",
			err:      NewValidationError("upstream", "base_url", ErrMissingRequiredField),
			contains: []string{"upstream", "base_url", "missing required field"},
		},
		{
			name:     "invalid value",
			err:      NewValidationError("chat", "page_size", errors.New("must be between 1 and 100")),
			contains: []string{"chat", "page_size", "between 1 and 100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	validationErr := NewValidationError("server", "port", ErrInvalidValue)

	assert.Equal(t, ErrInvalidValue, validationErr.Unwrap())
	assert.True(t, errors.Is(validationErr, ErrInvalidValue))
}

func TestLoadError(t *testing.T) {
	baseErr := errors.New("yaml: unmarshal error")
	loadErr := NewLoadError("notebookchat.yaml", baseErr)

	assert.Contains(t, loadErr.Error(), "failed to load")
	assert.Contains(t, loadErr.Error(), "notebookchat.yaml")
	assert.Contains(t, loadErr.Error(), "unmarshal error")
	assert.True(t, errors.Is(loadErr, baseErr))
}
