// Package output provides event sinks.
// The primary sink appends newline-delimited JSON to a file; optional
// mirrors publish the same events elsewhere.
package output

import "context"

// Module is an event sink.
type Module interface {
	// Send writes one event.
	Send(ctx context.Context, event interface{}) error
	// Close releases any resources held by the module. It is idempotent.
	Close() error
}
