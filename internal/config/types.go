package config

import (
	"fmt"
	"strings"
)

// ParseResult is the outcome of reading one configuration document.
type ParseResult struct {
	// Data is the decoded top-level mapping
	Data map[string]interface{}
	// Errors lists parse failures; empty when Data is usable
	Errors []ParseError
	// FilePath is the source file (empty for in-memory content)
	FilePath string
	// Format is "json" or "yaml"
	Format string
}

// IsValid returns true if no parsing errors occurred.
func (r *ParseResult) IsValid() bool {
	return len(r.Errors) == 0
}

// ParseError represents a parsing error with location information.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Offset  int64
	Message string
	// Type is one of the ErrorType constants
	Type string
}

// Error implements the error interface.
func (e ParseError) Error() string {
	var sb strings.Builder
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	if e.Line > 0 {
		sb.WriteString(fmt.Sprintf("line %d", e.Line))
		if e.Column > 0 {
			sb.WriteString(fmt.Sprintf(", column %d", e.Column))
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// ValidationResult contains the result of validating a configuration map.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError is one schema violation.
type ValidationError struct {
	// Path is the JSON pointer of the offending value (e.g. "/debug")
	Path string
	// Type is a short classification (type, pattern, range, ...)
	Type    string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Key returns the top-level configuration key the error refers to.
func (e ValidationError) Key() string {
	p := strings.TrimPrefix(e.Path, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}

// Result combines parsing and validation of a configuration file.
type Result struct {
	Data             map[string]interface{}
	ParseErrors      []ParseError
	ValidationErrors []ValidationError
	FilePath         string
	Format           string
}

// IsValid returns true if no errors occurred.
func (r *Result) IsValid() bool {
	return len(r.ParseErrors) == 0 && len(r.ValidationErrors) == 0
}

// AllErrors returns all errors (parsing and validation) as a single slice.
func (r *Result) AllErrors() []error {
	errs := make([]error, 0, len(r.ParseErrors)+len(r.ValidationErrors))
	for _, e := range r.ParseErrors {
		errs = append(errs, e)
	}
	for _, e := range r.ValidationErrors {
		errs = append(errs, e)
	}
	return errs
}

// Parse error types.
const (
	ErrorTypeIO     = "io"
	ErrorTypeSyntax = "syntax"
	ErrorTypeFormat = "format"
)
