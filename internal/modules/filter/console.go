package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/PlainsightAI/filter-stub-application/internal/logger"
)

const (
	// MaxLogMessageLength caps a single console message.
	MaxLogMessageLength = 8 * 1024
	// MaxObjectDepth caps nesting when formatting objects.
	MaxObjectDepth = 10

	maxArrayElements = 100
)

// jsConsole routes console.log and friends to the structured logger.
type jsConsole struct {
	filterID string
	call     int64
}

func newJSConsole(rt *goja.Runtime, filterID string) (*jsConsole, error) {
	c := &jsConsole{filterID: filterID}

	console := rt.NewObject()
	for name, level := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"debug": slog.LevelDebug,
	} {
		fn := func(call goja.FunctionCall) goja.Value {
			c.write(level, call.Arguments)
			return goja.Undefined()
		}
		if err := console.Set(name, fn); err != nil {
			return nil, fmt.Errorf("console.Set(%q): %w", name, err)
		}
	}
	if err := rt.Set("console", console); err != nil {
		return nil, fmt.Errorf("runtime.Set(console): %w", err)
	}
	return c, nil
}

// setCall records which transform invocation is running.
func (c *jsConsole) setCall(n int64) {
	c.call = n
}

func (c *jsConsole) write(level slog.Level, args []goja.Value) {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, formatJSValue(arg))
	}
	message := strings.Join(parts, " ")
	if len(message) > MaxLogMessageLength {
		message = message[:MaxLogMessageLength-3] + "..."
	}

	attrs := []any{slog.String("source", "javascript")}
	if c.filterID != "" {
		attrs = append(attrs, slog.String("filter_id", c.filterID))
	}
	if c.call > 0 {
		attrs = append(attrs, slog.Int64("transform_call", c.call))
	}
	logger.WithModule("filter", "script").Log(context.Background(), level, message, attrs...)
}

func formatJSValue(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) {
		return "undefined"
	}
	if goja.IsNull(val) {
		return "null"
	}
	if s, ok := val.Export().(string); ok {
		return s
	}
	return formatGoValue(val.Export(), 0, map[uintptr]bool{})
}

// formatGoValue renders an exported value as compact JSON-like text,
// replacing cycles and overly deep nesting with placeholders.
func formatGoValue(v interface{}, depth int, seen map[uintptr]bool) string {
	if depth > MaxObjectDepth {
		return "[Object]"
	}
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		data, _ := json.Marshal(x)
		return string(data)
	case bool, int, int32, int64, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", x)
	case []interface{}:
		ptr := reflect.ValueOf(x).Pointer()
		if len(x) > 0 && seen[ptr] {
			return "[Circular]"
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		n := min(len(x), maxArrayElements)
		parts := make([]string, 0, n+1)
		for _, el := range x[:n] {
			parts = append(parts, formatGoValue(el, depth+1, seen))
		}
		if len(x) > n {
			parts = append(parts, fmt.Sprintf("... %d more items", len(x)-n))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		ptr := reflect.ValueOf(x).Pointer()
		if seen[ptr] {
			return "[Circular]"
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			key, _ := json.Marshal(k)
			b.Write(key)
			b.WriteString(": ")
			b.WriteString(formatGoValue(x[k], depth+1, seen))
		}
		b.WriteByte('}')
		return b.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("[Object %T]", v)
		}
		return string(data)
	}
}
