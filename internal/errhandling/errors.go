// Package errhandling provides error types and classification for the filter runtime.
// Every error that crosses a module boundary is a *StubError carrying one of
// four categories; the category decides whether the error is fatal to the
// filter or only to the current processing cycle.
package errhandling

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory represents the type/category of an error.
type ErrorCategory string

// Error categories for classification.
const (
	// CategoryConfig is an invalid or missing configuration value.
	// Always fatal: setup is aborted.
	CategoryConfig ErrorCategory = "config"

	// CategorySchema is a malformed or unsupported JSON Schema template.
	// Always fatal: setup is aborted.
	CategorySchema ErrorCategory = "schema"

	// CategoryMalformedLine is an echo input line that is not valid JSON.
	// Recoverable: the cycle is skipped, or the line is skipped by policy.
	CategoryMalformedLine ErrorCategory = "malformed_line"

	// CategoryIO is an unreadable input or unwritable output.
	CategoryIO ErrorCategory = "io"
)

// StubError wraps an error with its category and location.
type StubError struct {
	// Category is the error classification category.
	Category ErrorCategory

	// Op is the operation that failed (e.g. "open events file", "emit").
	Op string

	// Path is the file involved, if any.
	Path string

	// Key is the configuration key involved, if any.
	Key string

	// Line is the 1-based line number for malformed input (0 if unknown).
	Line int

	// Message is a human-readable error message.
	Message string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StubError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Category))
	sb.WriteString(" error")
	if e.Op != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	if e.Key != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", e.Key))
	}
	if e.Path != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Path)
		if e.Line > 0 {
			sb.WriteString(fmt.Sprintf(":%d", e.Line))
		}
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *StubError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *StubError of the same category with no
// further detail, so that errors.Is(err, ErrConfig) works as a category check.
func (e *StubError) Is(target error) bool {
	t, ok := target.(*StubError)
	if !ok {
		return false
	}
	return t.Category == e.Category && t.Op == "" && t.Path == "" && t.Key == "" && t.Message == "" && t.Err == nil
}

// Category sentinels for errors.Is.
var (
	ErrConfig        = &StubError{Category: CategoryConfig}
	ErrSchema        = &StubError{Category: CategorySchema}
	ErrMalformedLine = &StubError{Category: CategoryMalformedLine}
	ErrIO            = &StubError{Category: CategoryIO}
)

// NewConfigError creates a configuration error for the given key.
func NewConfigError(key, message string, err error) *StubError {
	return &StubError{Category: CategoryConfig, Op: "invalid configuration", Key: key, Message: message, Err: err}
}

// NewSchemaError creates a schema error for the given template path.
func NewSchemaError(path, message string, err error) *StubError {
	return &StubError{Category: CategorySchema, Op: "invalid template", Path: path, Message: message, Err: err}
}

// NewMalformedLineError creates an error for an unparseable echo input line.
func NewMalformedLineError(path string, line int, err error) *StubError {
	return &StubError{Category: CategoryMalformedLine, Op: "malformed event", Path: path, Line: line, Err: err}
}

// NewIOError creates an I/O error for the given operation and path.
func NewIOError(op, path string, err error) *StubError {
	return &StubError{Category: CategoryIO, Op: op, Path: path, Err: err}
}

// GetErrorCategory returns the category of err, or "" if it is not a *StubError.
func GetErrorCategory(err error) ErrorCategory {
	var se *StubError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return GetErrorCategory(err) == CategoryConfig
}

// IsSchemaError reports whether err is a schema error.
func IsSchemaError(err error) bool {
	return GetErrorCategory(err) == CategorySchema
}

// IsMalformedLine reports whether err is a malformed input line error.
func IsMalformedLine(err error) bool {
	return GetErrorCategory(err) == CategoryMalformedLine
}

// IsIOError reports whether err is an I/O error.
func IsIOError(err error) bool {
	return GetErrorCategory(err) == CategoryIO
}

// IsFatal reports whether err must stop the filter.
//
// Classification rules:
//   - config, schema: fatal (setup-time only)
//   - io: fatal
//   - malformed_line: not fatal, the cycle is skipped
//   - unclassified errors: not fatal
func IsFatal(err error) bool {
	switch GetErrorCategory(err) {
	case CategoryConfig, CategorySchema, CategoryIO:
		return true
	default:
		return false
	}
}
