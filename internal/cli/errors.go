// Package cli provides CLI output formatting and display functions.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/filter"
)

// PrintParseErrors prints configuration parse errors.
func PrintParseErrors(w io.Writer, errs []config.ParseError, verbose bool) {
	fmt.Fprintln(w, "✗ Parse errors:")
	for _, err := range errs {
		printSingleParseError(w, err, verbose)
	}
}

func printSingleParseError(w io.Writer, err config.ParseError, verbose bool) {
	location := formatErrorLocation(err.Path, err.Line, err.Column)

	if location != "" {
		fmt.Fprintf(w, "  %s: %s\n", location, err.Message)
	} else {
		fmt.Fprintf(w, "  %s\n", err.Message)
	}

	if verbose && err.Type != "" {
		fmt.Fprintf(w, "    Type: %s\n", err.Type)
	}
}

// formatErrorLocation formats the error location string (path:line:column).
func formatErrorLocation(path string, line, column int) string {
	if path == "" {
		return ""
	}

	location := path
	if line > 0 {
		location += fmt.Sprintf(":%d", line)
		if column > 0 {
			location += fmt.Sprintf(":%d", column)
		}
	}
	return location
}

// PrintValidationErrors prints schema violations of a configuration file.
func PrintValidationErrors(w io.Writer, errs []config.ValidationError, verbose, quiet bool) {
	fmt.Fprintln(w, "✗ Validation errors:")
	for _, err := range errs {
		path := err.Path
		if path == "" {
			path = "/"
		}
		if verbose {
			fmt.Fprintf(w, "  %s:\n", path)
			fmt.Fprintf(w, "    Message: %s\n", err.Message)
			if err.Type != "" {
				fmt.Fprintf(w, "    Type: %s\n", err.Type)
			}
			continue
		}
		fmt.Fprintf(w, "  %s: %s\n", path, truncate(err.Message, 80))
	}
	printVerboseHint(w, verbose, quiet)
}

// PrintError prints a configuration, schema, input or runtime error.
// Classified errors are broken down into their location and cause.
func PrintError(w io.Writer, err error, verbose bool) {
	if err == nil {
		return
	}

	var se *errhandling.StubError
	if !errors.As(err, &se) {
		var fe *filter.Error
		if errors.As(err, &fe) {
			fmt.Fprintf(w, "✗ %s %s error: %s\n", fe.Module, fe.Code, fe.Message)
			return
		}
		fmt.Fprintf(w, "✗ %v\n", err)
		return
	}

	fmt.Fprintf(w, "✗ %s error\n", se.Category)
	if se.Key != "" {
		fmt.Fprintf(w, "  Key: %s\n", se.Key)
	}
	if location := formatErrorLocation(se.Path, se.Line, 0); location != "" {
		fmt.Fprintf(w, "  Location: %s\n", location)
	}
	if se.Op != "" {
		fmt.Fprintf(w, "  Operation: %s\n", se.Op)
	}
	if se.Message != "" {
		fmt.Fprintf(w, "  Message: %s\n", se.Message)
	}
	if se.Err != nil {
		cause := se.Err.Error()
		if !verbose {
			cause = truncate(cause, 120)
		}
		fmt.Fprintf(w, "  Cause: %s\n", cause)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func printVerboseHint(w io.Writer, verbose, quiet bool) {
	if !verbose && !quiet {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Hint: Use --verbose for detailed error information")
	}
}
