// Package filter provides event transforms applied between the source and
// the emitter. A transform may rewrite an event or drop it for the cycle.
package filter

import (
	"context"
	"fmt"
)

// Error codes for transform failures.
const (
	ErrCodeInvalidExpression = "INVALID_EXPRESSION"
	ErrCodeEvaluationFailed  = "EVALUATION_FAILED"
	ErrCodeScriptEmpty       = "SCRIPT_EMPTY"
	ErrCodeScriptTooLong     = "SCRIPT_TOO_LONG"
	ErrCodeScriptFile        = "SCRIPT_FILE"
	ErrCodeCompilationFailed = "COMPILATION_FAILED"
	ErrCodeMissingTransform  = "MISSING_TRANSFORM"
	ErrCodeExecutionFailed   = "EXECUTION_FAILED"
	ErrCodeInvalidPath       = "INVALID_PATH"
	ErrCodeNotAnObject       = "NOT_AN_OBJECT"
)

// Module is an event transform.
type Module interface {
	// Apply returns the event to emit and whether to keep it.
	// keep=false with a nil error drops the event for this cycle.
	Apply(ctx context.Context, event interface{}) (out interface{}, keep bool, err error)
}

// Error carries structured context for a transform failure.
type Error struct {
	Code    string
	Module  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Module, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(module, code, message string, err error) *Error {
	return &Error{Code: code, Module: module, Message: message, Err: err}
}

// Chain applies transforms in order and stops at the first drop or error.
type Chain []Module

// Apply runs every transform of the chain.
func (c Chain) Apply(ctx context.Context, event interface{}) (interface{}, bool, error) {
	for _, m := range c {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		out, keep, err := m.Apply(ctx, event)
		if err != nil || !keep {
			return nil, false, err
		}
		event = out
	}
	return event, true, nil
}

var _ Module = Chain(nil)
