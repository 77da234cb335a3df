package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewDecodeError("bad json", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, DecodeError, err.Kind)
}

func TestSubprocessErrorMessage(t *testing.T) {
	err := NewSubprocessError("kimi", 7)
	assert.Equal(t, "kimi failed (rc=7).", err.Message)
	assert.Contains(t, err.Error(), "SubprocessError")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ConfigError", ConfigError.String())
	assert.Equal(t, "Unknown", Kind(999).String())
}
