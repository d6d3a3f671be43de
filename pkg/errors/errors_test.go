package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/deepresearch/pkg/types"
)

func TestMemGOSError(t *testing.T) {
	t.Run("NewMemGOSError", func(t *testing.T) {
		err := NewMemGOSError(types.ErrorTypeValidation, ErrCodeValidation, "test error")

		assert.Equal(t, types.ErrorTypeValidation, err.Type)
		assert.Equal(t, ErrCodeValidation, err.Code)
		assert.Equal(t, "test error", err.Message)
		assert.Nil(t, err.Cause)
		assert.Empty(t, err.Details)
		assert.Empty(t, err.RequestID)
	})

	t.Run("Error", func(t *testing.T) {
		err := NewMemGOSError(types.ErrorTypeValidation, ErrCodeValidation, "test error")
		assert.Equal(t, "[VALIDATION_ERROR] validation: test error", err.Error())

		cause := errors.New("underlying error")
		errWithCause := NewMemGOSErrorWithCause(types.ErrorTypeInternal, ErrCodeInternal, "wrapped error", cause)
		assert.Equal(t, "[INTERNAL_ERROR] internal: wrapped error (caused by: underlying error)", errWithCause.Error())
	})

	t.Run("Unwrap", func(t *testing.T) {
		cause := errors.New("underlying error")
		err := NewMemGOSErrorWithCause(types.ErrorTypeInternal, ErrCodeInternal, "wrapped error", cause)
		assert.Equal(t, cause, err.Unwrap())
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("WithDetailAndRequestID", func(t *testing.T) {
		err := NewMemGOSError(types.ErrorTypeValidation, ErrCodeValidation, "test error")
		result := err.WithDetail("field", "prompt").WithRequestID("req-123")
		assert.Same(t, err, result)
		assert.Equal(t, "prompt", err.Details["field"])
		assert.Equal(t, "req-123", err.RequestID)
	})
}

func TestStageError(t *testing.T) {
	cause := NewLLMAPIError("stream failed", errors.New("eof"))
	err := NewStageError("reasoning_agent", cause)

	assert.Equal(t, ErrCodeStageFailed, err.Code)
	assert.Equal(t, "reasoning_agent", err.Details["stage"])
	assert.Contains(t, err.Error(), "stage reasoning_agent failed")
	assert.True(t, HasCode(err, ErrCodeStageFailed))
	assert.True(t, HasCode(err, ErrCodeLLMAPIError))
	assert.False(t, HasCode(err, ErrCodeTimeout))
}

func TestClassification(t *testing.T) {
	t.Run("IsNotFound", func(t *testing.T) {
		assert.True(t, IsNotFound(NewMemoryNotFoundError("m1")))
		assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", NewNotFoundError("memory"))))
		assert.False(t, IsNotFound(NewInternalError("x")))
		assert.False(t, IsNotFound(errors.New("plain")))
	})

	t.Run("IsClientError", func(t *testing.T) {
		assert.True(t, IsClientError(NewValidationError("user_id and prompt are required")))
		assert.True(t, IsClientError(NewMissingFieldError("prompt")))
		assert.False(t, IsClientError(NewDatabaseErrorWithCause("x", errors.New("io"))))
		assert.False(t, IsClientError(nil))
	})

	t.Run("PublicMessage", func(t *testing.T) {
		assert.Equal(t, "user_id and prompt are required",
			PublicMessage(NewValidationError("user_id and prompt are required")))
		assert.Equal(t, GenericClientMessage,
			PublicMessage(NewDatabaseErrorWithCause("insert failed", errors.New("disk full"))))
		assert.Equal(t, GenericClientMessage, PublicMessage(errors.New("secret detail")))
	})

	t.Run("GetMemGOSError", func(t *testing.T) {
		base := NewTimeoutError("fetch")
		wrapped := fmt.Errorf("outer: %w", base)
		assert.Same(t, base, GetMemGOSError(wrapped))
		assert.Nil(t, GetMemGOSError(errors.New("plain")))
	})
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name    string
		err     *MemGOSError
		code    ErrorCode
		errType types.ErrorType
		detail  string
	}{
		{"MissingField", NewMissingFieldError("user_id"), ErrCodeMissingField, types.ErrorTypeValidation, "field"},
		{"InvalidFormat", NewInvalidFormatError("body", "json"), ErrCodeInvalidFormat, types.ErrorTypeValidation, "expected_format"},
		{"ServiceUnavailable", NewServiceUnavailableError("qdrant"), ErrCodeServiceUnavailable, types.ErrorTypeInternal, "service"},
		{"ConnectionFailed", NewConnectionFailedError("nats"), ErrCodeConnectionFailed, types.ErrorTypeInternal, "target"},
		{"QueryFailed", NewQueryFailedError("select", errors.New("x")), ErrCodeQueryFailed, types.ErrorTypeInternal, "query"},
		{"LLMTimeout", NewLLMTimeoutError("gpt-4o", context.DeadlineExceeded), ErrCodeLLMTimeout, types.ErrorTypeExternal, "model"},
		{"ConfigNotFound", NewConfigNotFoundError("/etc/x.yaml"), ErrCodeConfigNotFound, types.ErrorTypeNotFound, "config_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.errType, tt.err.Type)
			assert.Contains(t, tt.err.Details, tt.detail)
		})
	}

	disconnected := NewClientDisconnectedError(errors.New("broken pipe"))
	assert.Equal(t, ErrCodeClientDisconnected, disconnected.Code)
	assert.False(t, IsClientError(disconnected))
}

func TestErrorList(t *testing.T) {
	el := NewErrorList()
	assert.False(t, el.HasErrors())
	assert.Nil(t, el.ToError())

	el.Add(NewValidationError("first"))
	el.Add(NewInternalError("second"))
	require.True(t, el.HasErrors())
	assert.Equal(t, 2, strings.Count(el.Error(), ";")+1)

	assert.Len(t, el.Errors, 2)
	assert.Error(t, el.ToError())
}
