package filter

import (
	"context"
	"fmt"
	"sort"

	"github.com/PlainsightAI/filter-stub-application/internal/logger"
)

type fieldAssignment struct {
	path  fieldPath
	value interface{}
}

// Set stamps fixed values onto every event. Paths use dot notation and
// intermediate objects are created as needed. Events that are not JSON
// objects cannot be stamped and fail the transform.
type Set struct {
	fields []fieldAssignment
}

// NewSet parses the field paths. Assignments are applied in path order so
// that a parent path is written before its children.
func NewSet(fields map[string]interface{}) (*Set, error) {
	if len(fields) == 0 {
		return nil, newError("set", ErrCodeInvalidPath, "at least one field is required", nil)
	}

	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	s := &Set{fields: make([]fieldAssignment, 0, len(paths))}
	for _, raw := range paths {
		p, err := parseFieldPath(raw)
		if err != nil {
			return nil, newError("set", ErrCodeInvalidPath, err.Error(), err)
		}
		s.fields = append(s.fields, fieldAssignment{path: p, value: fields[raw]})
	}

	logger.Debug("set transform initialized", "fields", paths)
	return s, nil
}

// Apply returns a copy of the event with every field assigned.
func (s *Set) Apply(ctx context.Context, event interface{}) (interface{}, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	obj, ok := event.(map[string]interface{})
	if !ok {
		return nil, false, newError("set", ErrCodeNotAnObject,
			fmt.Sprintf("cannot set fields on a %s event", jsonKind(event)), nil)
	}

	out := cloneValue(obj).(map[string]interface{})
	for _, f := range s.fields {
		f.path.set(out, cloneValue(f.value))
	}
	return out, true, nil
}

var _ Module = (*Set)(nil)
