package filter

import (
	"context"

	"github.com/PlainsightAI/filter-stub-application/internal/logger"
)

// Remove deletes fields from every event. Missing fields are ignored and
// events that are not JSON objects pass through unchanged.
type Remove struct {
	paths []fieldPath
}

// NewRemove parses the field paths, dropping empty entries and duplicates.
func NewRemove(targets []string) (*Remove, error) {
	seen := make(map[string]bool, len(targets))
	r := &Remove{}
	for _, t := range targets {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		p, err := parseFieldPath(t)
		if err != nil {
			return nil, newError("remove", ErrCodeInvalidPath, err.Error(), err)
		}
		r.paths = append(r.paths, p)
	}
	if len(r.paths) == 0 {
		return nil, newError("remove", ErrCodeInvalidPath, "at least one field path is required", nil)
	}

	logger.Debug("remove transform initialized", "fields", len(r.paths))
	return r, nil
}

// Apply returns a copy of the event without the configured fields.
func (r *Remove) Apply(ctx context.Context, event interface{}) (interface{}, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	obj, ok := event.(map[string]interface{})
	if !ok {
		return event, true, nil
	}

	out := cloneValue(obj).(map[string]interface{})
	for _, p := range r.paths {
		p.remove(out)
	}
	return out, true, nil
}

var _ Module = (*Remove)(nil)
