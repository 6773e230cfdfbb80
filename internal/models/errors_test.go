package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodedError_Error(t *testing.T) {
	err := NewCodedError(CodeInvalidDuration, ErrorKindValidation, "duration %d not allowed", 17)
	assert.Equal(t, "INVALID_DURATION: duration 17 not allowed", err.Error())
}

func TestCodedError_Wrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapCodedError(CodeRiskValidationError, ErrorKindInfrastructure, cause, "broker lookup failed")

	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestErrorCode(t *testing.T) {
	err := NewCodedError(CodeSessionNotFound, ErrorKindConflict, "no pending or active session")
	assert.Equal(t, CodeSessionNotFound, ErrorCode(err))
	assert.Equal(t, "", ErrorCode(errors.New("plain")))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestErrorCode_Wrapped(t *testing.T) {
	inner := NewCodedError(CodeActiveSessionExists, ErrorKindConflict, "user already has a session")
	wrapped := fmt.Errorf("create session: %w", inner)

	require.True(t, IsCode(wrapped, CodeActiveSessionExists))
	assert.Equal(t, ErrorKindConflict, KindOf(wrapped))
}

func TestKindOf_Default(t *testing.T) {
	assert.Equal(t, ErrorKindInfrastructure, KindOf(errors.New("socket closed")))
}
