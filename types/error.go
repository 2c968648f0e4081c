package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Context registry error codes
const (
	ErrMissingDependency ErrorCode = "MISSING_DEPENDENCY"
)

// Expression error codes
const (
	ErrEvaluation          ErrorCode = "EVALUATION_ERROR"
	ErrUnsupportedLanguage ErrorCode = "UNSUPPORTED_LANGUAGE"
	ErrNotEvaluated        ErrorCode = "NOT_EVALUATED"
)

// Variable scope error codes
const (
	ErrUndefinedVariable ErrorCode = "UNDEFINED_VARIABLE"
	ErrImmutableVariable ErrorCode = "IMMUTABLE_VARIABLE"
	ErrReservedVariable  ErrorCode = "RESERVED_VARIABLE"
	ErrVariableType      ErrorCode = "VARIABLE_TYPE"
	ErrReleasedScope     ErrorCode = "RELEASED_SCOPE"
)

// Plan error codes
const (
	ErrPlanNotFound     ErrorCode = "PLAN_NOT_FOUND"
	ErrPlanCycle        ErrorCode = "PLAN_CYCLE"
	ErrInvalidArtefact  ErrorCode = "INVALID_ARTEFACT"
	ErrCheckFailed      ErrorCode = "CHECK_FAILED"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Key is the variable key, context key or plan id the error refers to.
	Key   string `json:"key,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithKey records the key the error refers to.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// MissingDependency reports a required context entry that is absent.
func MissingDependency(key string) *Error {
	return NewError(ErrMissingDependency, "missing required context entry "+key).WithKey(key)
}

// UndefinedVariable reports a variable no scope defines.
func UndefinedVariable(key string) *Error {
	return NewError(ErrUndefinedVariable, "variable "+key+" is not defined").WithKey(key)
}

// ImmutableVariable reports a write to an immutable variable.
func ImmutableVariable(key string) *Error {
	return NewError(ErrImmutableVariable, "variable "+key+" is immutable").WithKey(key)
}

// EvaluationError wraps an evaluator failure for the given expression.
func EvaluationError(expression string, cause error) *Error {
	return NewError(ErrEvaluation, fmt.Sprintf("evaluation of %q failed", expression)).
		WithKey(expression).
		WithCause(cause)
}
