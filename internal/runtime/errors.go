package runtime

import (
	"errors"
)

// ErrNotRunning is returned when processing after shutdown or before setup.
var ErrNotRunning = errors.New("filter is not running")

// ErrAlreadySetUp is returned when Setup is called twice.
var ErrAlreadySetUp = errors.New("filter is already set up")

// Skip reasons reported in frame.Result.SkipReason and the events_skipped metric.
const (
	ReasonEndOfStream    = "end_of_stream"
	ReasonMalformedLine  = "malformed_line"
	ReasonSourceError    = "source_error"
	ReasonDropped        = "dropped"
	ReasonTransformError = "transform_error"
	ReasonEmitError      = "emit_error"
)

// State is a lifecycle state of the filter.
type State int

// Lifecycle states.
const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
