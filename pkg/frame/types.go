// Package frame provides the public types exchanged with neighbouring pipeline stages.
// This package is intended to be importable by hosts that drive the filter.
package frame

import "time"

// EventKey is the Data key under which an emitted event is published.
const EventKey = "event"

// Frame is one named payload received from, or sent to, another pipeline stage.
type Frame struct {
	// Topic names the stream the frame belongs to (e.g. "main", "metadata")
	Topic string `json:"topic"`

	// Data is the structured, non-image payload
	Data map[string]interface{} `json:"data,omitempty"`

	// Image holds encoded or raw image bytes; nil for data-only frames
	Image []byte `json:"image,omitempty"`

	// Format describes Image (e.g. "RGB", "BGR", "jpg")
	Format string `json:"format,omitempty"`
}

// HasImage reports whether the frame carries image bytes.
func (f Frame) HasImage() bool {
	return len(f.Image) > 0
}

// EventFrame wraps an emitted event into a data-only frame on the given topic.
func EventFrame(topic string, event interface{}) Frame {
	return Frame{
		Topic: topic,
		Data:  map[string]interface{}{EventKey: event},
	}
}

// Result is the outcome of a single processing cycle.
type Result struct {
	// Cycle is the 1-based number of the cycle
	Cycle int64 `json:"cycle"`

	// Emitted is true when an event was written to the output file
	Emitted bool `json:"emitted"`

	// Event is the event written this cycle (nil when nothing was emitted)
	Event interface{} `json:"event,omitempty"`

	// SkipReason explains why no event was emitted ("end_of_stream", "malformed_line", ...)
	SkipReason string `json:"skipReason,omitempty"`

	// Frames are the frames passed downstream, in order
	Frames []Frame `json:"frames,omitempty"`

	// StartedAt is when the cycle started
	StartedAt time.Time `json:"startedAt"`

	// Duration is how long the cycle took
	Duration time.Duration `json:"duration"`
}

// Topics returns the topics of the downstream frames in order.
func (r *Result) Topics() []string {
	if r == nil {
		return nil
	}
	topics := make([]string, len(r.Frames))
	for i, f := range r.Frames {
		topics[i] = f.Topic
	}
	return topics
}
