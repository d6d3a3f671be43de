// Package errors provides structured error handling for deepresearch
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/memtensor/deepresearch/pkg/types"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"

	// Resource errors
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// System errors
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeClientDisconnected ErrorCode = "CLIENT_DISCONNECTED"

	// Pipeline errors
	ErrCodeStageFailed ErrorCode = "STAGE_FAILED"

	// Database errors
	ErrCodeDatabaseError    ErrorCode = "DATABASE_ERROR"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodeQueryFailed      ErrorCode = "QUERY_FAILED"

	// Memory errors
	ErrCodeMemoryError    ErrorCode = "MEMORY_ERROR"
	ErrCodeMemoryNotFound ErrorCode = "MEMORY_NOT_FOUND"

	// LLM errors
	ErrCodeLLMTimeout  ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMAPIError ErrorCode = "LLM_API_ERROR"

	// Configuration errors
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"
)

// GenericClientMessage is what callers see for any failure that is not their fault
const GenericClientMessage = "An error occurred during search"

// MemGOSError represents a structured error
type MemGOSError struct {
	Type      types.ErrorType        `json:"type"`
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *MemGOSError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *MemGOSError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *MemGOSError) WithDetail(key string, value interface{}) *MemGOSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRequestID adds a request ID to the error
func (e *MemGOSError) WithRequestID(requestID string) *MemGOSError {
	e.RequestID = requestID
	return e
}

// NewMemGOSError creates a new structured error
func NewMemGOSError(errType types.ErrorType, code ErrorCode, message string) *MemGOSError {
	return &MemGOSError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// NewMemGOSErrorWithCause creates a new structured error with a cause
func NewMemGOSErrorWithCause(errType types.ErrorType, code ErrorCode, message string, cause error) *MemGOSError {
	return &MemGOSError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Validation error constructors
func NewValidationError(message string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeValidation, ErrCodeValidation, message)
}

func NewMissingFieldError(field string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeValidation, ErrCodeMissingField,
		fmt.Sprintf("missing required field: %s", field)).WithDetail("field", field)
}

func NewInvalidFormatError(field, expectedFormat string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeValidation, ErrCodeInvalidFormat,
		fmt.Sprintf("invalid format for field %s, expected: %s", field, expectedFormat)).
		WithDetail("field", field).WithDetail("expected_format", expectedFormat)
}

// Resource error constructors
func NewNotFoundError(resource string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeNotFound, ErrCodeNotFound,
		fmt.Sprintf("%s not found", resource)).WithDetail("resource", resource)
}

// System error constructors
func NewInternalError(message string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeInternal, ErrCodeInternal, message)
}

func NewInternalErrorWithCause(message string, cause error) *MemGOSError {
	return NewMemGOSErrorWithCause(types.ErrorTypeInternal, ErrCodeInternal, message, cause)
}

func NewServiceUnavailableError(service string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeInternal, ErrCodeServiceUnavailable,
		fmt.Sprintf("%s service is unavailable", service)).WithDetail("service", service)
}

func NewTimeoutError(operation string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeInternal, ErrCodeTimeout,
		fmt.Sprintf("%s operation timed out", operation)).WithDetail("operation", operation)
}

// NewClientDisconnectedError reports that the delivery channel went away mid-request
func NewClientDisconnectedError(cause error) *MemGOSError {
	return NewMemGOSErrorWithCause(types.ErrorTypeInternal, ErrCodeClientDisconnected,
		"client disconnected", cause)
}

// NewStageError wraps a failure raised inside a pipeline stage
func NewStageError(stage string, cause error) *MemGOSError {
	return NewMemGOSErrorWithCause(types.ErrorTypeInternal, ErrCodeStageFailed,
		fmt.Sprintf("stage %s failed", stage), cause).WithDetail("stage", stage)
}

// Database error constructors
func NewDatabaseErrorWithCause(message string, cause error) *MemGOSError {
	return NewMemGOSErrorWithCause(types.ErrorTypeInternal, ErrCodeDatabaseError, message, cause)
}

func NewConnectionFailedError(target string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeInternal, ErrCodeConnectionFailed,
		fmt.Sprintf("failed to connect to %s", target)).WithDetail("target", target)
}

func NewQueryFailedError(query string, cause error) *MemGOSError {
	return NewMemGOSErrorWithCause(types.ErrorTypeInternal, ErrCodeQueryFailed,
		"query execution failed", cause).WithDetail("query", query)
}

// Memory error constructors
func NewMemoryError(message string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeInternal, ErrCodeMemoryError, message)
}

func NewMemoryErrorWithCause(message string, cause error) *MemGOSError {
	return NewMemGOSErrorWithCause(types.ErrorTypeInternal, ErrCodeMemoryError, message, cause)
}

func NewMemoryNotFoundError(memoryID string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeNotFound, ErrCodeMemoryNotFound,
		fmt.Sprintf("memory not found: %s", memoryID)).WithDetail("memory_id", memoryID)
}

// LLM error constructors
func NewLLMTimeoutError(model string, cause error) *MemGOSError {
	return NewMemGOSErrorWithCause(types.ErrorTypeExternal, ErrCodeLLMTimeout,
		fmt.Sprintf("LLM request timed out: %s", model), cause).WithDetail("model", model)
}

func NewLLMAPIError(message string, cause error) *MemGOSError {
	return NewMemGOSErrorWithCause(types.ErrorTypeExternal, ErrCodeLLMAPIError, message, cause)
}

// Configuration error constructors
func NewConfigNotFoundError(configPath string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeNotFound, ErrCodeConfigNotFound,
		fmt.Sprintf("configuration file not found: %s", configPath)).WithDetail("config_path", configPath)
}

func NewConfigInvalidError(message string) *MemGOSError {
	return NewMemGOSError(types.ErrorTypeValidation, ErrCodeConfigInvalid, message)
}

// GetMemGOSError extracts a MemGOSError from an error chain
func GetMemGOSError(err error) *MemGOSError {
	var memgosErr *MemGOSError
	if stderrors.As(err, &memgosErr) {
		return memgosErr
	}
	return nil
}

// HasCode reports whether any MemGOSError in the chain carries code
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*MemGOSError); ok && e.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsNotFound reports whether err describes a missing resource
func IsNotFound(err error) bool {
	e := GetMemGOSError(err)
	return e != nil && e.Type == types.ErrorTypeNotFound
}

// IsClientError reports whether err was caused by invalid caller input
func IsClientError(err error) bool {
	e := GetMemGOSError(err)
	return e != nil && e.Type == types.ErrorTypeValidation
}

// PublicMessage returns the text that may be shown to a client for err.
// Only validation failures expose their message.
func PublicMessage(err error) string {
	if IsClientError(err) {
		return GetMemGOSError(err).Message
	}
	return GenericClientMessage
}

// ErrorList represents a list of errors
type ErrorList struct {
	Errors []*MemGOSError `json:"errors"`
}

// Error implements the error interface
func (el *ErrorList) Error() string {
	var messages []string
	for _, err := range el.Errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Add adds an error to the list
func (el *ErrorList) Add(err *MemGOSError) {
	el.Errors = append(el.Errors, err)
}

// HasErrors returns true if there are errors
func (el *ErrorList) HasErrors() bool {
	return len(el.Errors) > 0
}

// ToError returns the ErrorList as an error if it has errors, otherwise nil
func (el *ErrorList) ToError() error {
	if el.HasErrors() {
		return el
	}
	return nil
}

// NewErrorList creates a new error list
func NewErrorList() *ErrorList {
	return &ErrorList{
		Errors: make([]*MemGOSError, 0),
	}
}
