package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents an application error with additional context
type AppError struct {
	Code     string      `json:"code"`
	Message  string      `json:"message"`
	Internal error       `json:"-"`
	Details  interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

// Unwrap returns the internal error for errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Internal
}

// Error codes, one per failure class the engine distinguishes.
const (
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeConfig           = "CONFIG_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeConnection       = "CONNECTION_ERROR"
	ErrCodeInspection       = "INSPECTION_ERROR"
	ErrCodeManifestNotFound = "MANIFEST_NOT_FOUND"
	ErrCodeParse            = "PARSE_ERROR"
	ErrCodeGitOperation     = "GIT_OPERATION_ERROR"
	ErrCodePublish          = "PUBLISH_ERROR"
)

// Location pinpoints where a failure happened. Only the fields that apply are set.
type Location struct {
	Host   string `json:"host,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Entity string `json:"entity,omitempty"`
	Step   string `json:"step,omitempty"`
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Internal: err,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// Location returns the attached location, if any.
func (e *AppError) Location() Location {
	if loc, ok := e.Details.(Location); ok {
		return loc
	}
	return Location{}
}

// Internal creates an internal error
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrCodeInternal, message)
}

// Config creates a configuration error
func Config(message string, err error) *AppError {
	return Wrap(err, ErrCodeConfig, message)
}

// ValidationError creates a validation error
func ValidationError(message string, details interface{}) *AppError {
	return New(ErrCodeValidation, message).WithDetails(details)
}

// ConnectionError reports that a host could not be reached or authenticated against.
func ConnectionError(host string, err error) *AppError {
	return Wrap(err, ErrCodeConnection,
		fmt.Sprintf("failed to connect to %s", host)).
		WithDetails(Location{Host: host})
}

// InspectionError reports a single entity that could not be inspected.
func InspectionError(host, entity string, err error) *AppError {
	return Wrap(err, ErrCodeInspection,
		fmt.Sprintf("failed to inspect %s on %s", entity, host)).
		WithDetails(Location{Host: host, Entity: entity})
}

// ManifestNotFound reports a missing declarative manifest.
func ManifestNotFound(file string) *AppError {
	return New(ErrCodeManifestNotFound,
		fmt.Sprintf("manifest not found: %s", file)).
		WithDetails(Location{File: file})
}

// ParseError reports malformed declarative content.
func ParseError(file string, line int, err error) *AppError {
	msg := fmt.Sprintf("failed to parse %s", file)
	if line > 0 {
		msg = fmt.Sprintf("failed to parse %s (line %d)", file, line)
	}
	return Wrap(err, ErrCodeParse, msg).
		WithDetails(Location{File: file, Line: line})
}

// GitOperationError reports a failed local or remote git step.
func GitOperationError(step string, err error) *AppError {
	return Wrap(err, ErrCodeGitOperation,
		fmt.Sprintf("git %s failed", step)).
		WithDetails(Location{Step: step})
}

// PublishError reports a hosting API failure.
func PublishError(step string, err error) *AppError {
	return Wrap(err, ErrCodePublish,
		fmt.Sprintf("hosting API %s failed", step)).
		WithDetails(Location{Step: step})
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Kind returns the error code of the first AppError in err's chain, or "" if none.
func Kind(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}

// IsKind reports whether err carries an AppError with the given code.
func IsKind(err error, code string) bool {
	return Kind(err) == code
}
