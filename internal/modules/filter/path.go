package filter

// Field paths address values inside an event object:
//   - dot notation for nested objects: "device.location.zone"
//   - array indexing: "detections[0].label"

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned for malformed field paths.
var ErrInvalidPath = errors.New("invalid field path")

type pathStep struct {
	key   string
	index int // -1 when the step has no index
}

// fieldPath is a parsed dotted path.
type fieldPath struct {
	raw   string
	steps []pathStep
}

func (p fieldPath) String() string {
	return p.raw
}

// parseFieldPath parses a path such as "items[0].name".
func parseFieldPath(path string) (fieldPath, error) {
	if strings.TrimSpace(path) == "" {
		return fieldPath{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(path, ".")
	steps := make([]pathStep, 0, len(parts))
	for _, part := range parts {
		step, err := parsePathStep(part)
		if err != nil {
			return fieldPath{}, err
		}
		steps = append(steps, step)
	}
	return fieldPath{raw: path, steps: steps}, nil
}

// parsePathStep parses "key" or "key[3]".
func parsePathStep(part string) (pathStep, error) {
	open := strings.IndexByte(part, '[')
	if open == -1 {
		if part == "" || strings.IndexByte(part, ']') >= 0 {
			return pathStep{}, fmt.Errorf("%w: %q", ErrInvalidPath, part)
		}
		return pathStep{key: part, index: -1}, nil
	}
	if open == 0 || !strings.HasSuffix(part, "]") {
		return pathStep{}, fmt.Errorf("%w: %q", ErrInvalidPath, part)
	}
	index, err := strconv.Atoi(part[open+1 : len(part)-1])
	if err != nil || index < 0 {
		return pathStep{}, fmt.Errorf("%w: bad index in %q", ErrInvalidPath, part)
	}
	return pathStep{key: part[:open], index: index}, nil
}

// get returns the value at the path and whether it exists.
func (p fieldPath) get(obj map[string]interface{}) (interface{}, bool) {
	var current interface{} = obj
	for _, step := range p.steps {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if current, ok = m[step.key]; !ok {
			return nil, false
		}
		if step.index < 0 {
			continue
		}
		arr, ok := current.([]interface{})
		if !ok || step.index >= len(arr) {
			return nil, false
		}
		current = arr[step.index]
	}
	return current, true
}

// set stores value at the path, creating intermediate objects and growing
// arrays as needed. Non-object intermediates are replaced.
func (p fieldPath) set(obj map[string]interface{}, value interface{}) {
	current := obj
	last := len(p.steps) - 1
	for i, step := range p.steps {
		if step.index < 0 {
			if i == last {
				current[step.key] = value
				return
			}
			current = childObject(current, step.key)
			continue
		}

		arr, _ := current[step.key].([]interface{})
		if len(arr) <= step.index {
			arr = append(arr, make([]interface{}, step.index+1-len(arr))...)
			current[step.key] = arr
		}
		if i == last {
			arr[step.index] = value
			return
		}
		next, ok := arr[step.index].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			arr[step.index] = next
		}
		current = next
	}
}

func childObject(m map[string]interface{}, key string) map[string]interface{} {
	next, ok := m[key].(map[string]interface{})
	if !ok {
		next = make(map[string]interface{})
		m[key] = next
	}
	return next
}

// remove deletes the value at the path. Missing paths are ignored.
// Removing an array element shifts the following elements down.
func (p fieldPath) remove(obj map[string]interface{}) {
	parentPath := fieldPath{steps: p.steps[:len(p.steps)-1]}
	parent, ok := parentPath.get(obj)
	if !ok {
		return
	}
	m, ok := parent.(map[string]interface{})
	if !ok {
		return
	}

	leaf := p.steps[len(p.steps)-1]
	if leaf.index < 0 {
		delete(m, leaf.key)
		return
	}
	arr, ok := m[leaf.key].([]interface{})
	if !ok || leaf.index >= len(arr) {
		return
	}
	m[leaf.key] = append(arr[:leaf.index:leaf.index], arr[leaf.index+1:]...)
}
