// Package input provides event sources.
// A source yields exactly one event per call: replayed from a file (echo)
// or generated from a JSON Schema template (random).
package input

import (
	"context"
	"errors"
)

// ErrEndOfStream is returned by Next when no further events are available.
var ErrEndOfStream = errors.New("end of event stream")

// Module is an event source.
type Module interface {
	// Next returns the next event. It returns ErrEndOfStream when the source
	// is exhausted and a *errhandling.StubError for malformed input.
	Next(ctx context.Context) (interface{}, error)
	// Close releases any resources held by the module.
	Close() error
}

// Resumable is implemented by sources whose read position can be saved and
// restored across restarts.
type Resumable interface {
	// Position returns the number of events returned in the current pass.
	Position() int64
	// Seek restarts the pass and skips position events. It returns how
	// many events were actually skipped, which is less than position when
	// the source is shorter.
	Seek(ctx context.Context, position int64) (int64, error)
}
