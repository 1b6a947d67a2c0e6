package common

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable machine-readable failure classification carried
// across layers, from repositories through services up to processing
// results.
type ErrorCode string

const (
	CodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeDuplicate           ErrorCode = "DUPLICATE"
	CodeConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"
	CodeDatabaseError       ErrorCode = "DATABASE_ERROR"
	CodeIntegrationError    ErrorCode = "INTEGRATION_ERROR"
	CodeInvalidData         ErrorCode = "INVALID_DATA"
	CodeLimitExceeded       ErrorCode = "LIMIT_EXCEEDED"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
	CodeMissingEntityID     ErrorCode = "MISSING_ENTITY_ID"
	CodeInvalidMessage      ErrorCode = "INVALID_MESSAGE"
	CodeValidationError     ErrorCode = "VALIDATION_ERROR"
	CodeServiceError        ErrorCode = "SERVICE_ERROR"
	CodeUnexpectedError     ErrorCode = "UNEXPECTED_ERROR"
	CodeProcessingFailure   ErrorCode = "PROCESSING_FAILURE"
)

// BaseError is the shared shape of framework errors: a code, a message, an
// optional cause, and free-form key/value context.
type BaseError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BaseError) Unwrap() error { return e.Cause }

// WithContext attaches a key/value pair to the error. Returns the error for
// chaining.
func (e *BaseError) WithContext(key string, value interface{}) *BaseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// RepositoryError is raised by the storage layer.
type RepositoryError struct {
	BaseError
}

// NewRepositoryError creates a storage-layer error.
func NewRepositoryError(code ErrorCode, message string, cause error) *RepositoryError {
	return &RepositoryError{BaseError{Code: code, Message: message, Cause: cause}}
}

// ServiceError is raised by the service layer. It preserves the semantic
// code of any repository error it wraps.
type ServiceError struct {
	BaseError
}

// NewServiceError creates a service-layer error.
func NewServiceError(code ErrorCode, message string, cause error) *ServiceError {
	return &ServiceError{BaseError{Code: code, Message: message, Cause: cause}}
}

// ValidationError reports rejected input.
type ValidationError struct {
	BaseError
}

// NewValidationError creates a VALIDATION_FAILED error.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{BaseError{Code: CodeValidationFailed, Message: message}}
}

// NewValidationErrorWithCode creates a validation error with a specific
// code, e.g. MISSING_ENTITY_ID or INVALID_MESSAGE.
func NewValidationErrorWithCode(code ErrorCode, message string) *ValidationError {
	return &ValidationError{BaseError{Code: code, Message: message}}
}

// ServiceFromRepository converts a storage failure into a service error,
// keeping the original code and context and leaving the repository error
// reachable through the chain. Non-repository errors get SERVICE_ERROR.
func ServiceFromRepository(err error) *ServiceError {
	var repoErr *RepositoryError
	if errors.As(err, &repoErr) {
		svc := NewServiceError(repoErr.Code, repoErr.Message, err)
		for k, v := range repoErr.Context {
			svc.WithContext(k, v)
		}
		return svc
	}
	return NewServiceError(CodeServiceError, "storage operation failed", err)
}

// CodeOf walks the error chain outermost-first and returns the first
// framework code it finds, INTERNAL_ERROR when none.
func CodeOf(err error) ErrorCode {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch t := e.(type) {
		case *RepositoryError:
			return t.Code
		case *ServiceError:
			return t.Code
		case *ValidationError:
			return t.Code
		}
	}
	return CodeInternalError
}

// IsNotFound reports whether the error chain carries NOT_FOUND.
func IsNotFound(err error) bool { return err != nil && CodeOf(err) == CodeNotFound }

// IsDuplicate reports whether the error chain carries DUPLICATE.
func IsDuplicate(err error) bool { return err != nil && CodeOf(err) == CodeDuplicate }
