package filter

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/PlainsightAI/filter-stub-application/internal/logger"
)

// captureHandler collects records from a handler and every handler derived from it.
type captureHandler struct {
	records *[]slog.Record
	attrs   []slog.Attr
}

func (h captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h captureHandler) Handle(_ context.Context, r slog.Record) error {
	r = r.Clone()
	r.AddAttrs(h.attrs...)
	*h.records = append(*h.records, r)
	return nil
}

func (h captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return captureHandler{records: h.records, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h captureHandler) WithGroup(string) slog.Handler { return h }

func captureLogs(t *testing.T) *[]slog.Record {
	t.Helper()
	records := &[]slog.Record{}
	orig := logger.Logger
	logger.Logger = slog.New(captureHandler{records: records})
	t.Cleanup(func() { logger.Logger = orig })
	return records
}

func recordAttrs(r slog.Record) map[string]string {
	out := map[string]string{}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.String()
		return true
	})
	return out
}

func TestScriptConsole(t *testing.T) {
	records := captureLogs(t)

	s, err := NewScript(ScriptConfig{
		FilterID: "stub",
		Source: `function transform(e) {
			console.warn("seen", {id: e.id, tags: ["a", 1]});
			console.debug(null, undefined, 2.5);
			return e;
		}`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Apply(context.Background(), map[string]interface{}{"id": "event_1"}); err != nil {
		t.Fatal(err)
	}

	var consoleRecords []slog.Record
	for _, r := range *records {
		if recordAttrs(r)["source"] == "javascript" {
			consoleRecords = append(consoleRecords, r)
		}
	}
	if len(consoleRecords) != 2 {
		t.Fatalf("got %d console records, want 2", len(consoleRecords))
	}

	warn := consoleRecords[0]
	if warn.Level != slog.LevelWarn {
		t.Errorf("level = %v, want WARN", warn.Level)
	}
	if want := `seen {"id": "event_1", "tags": ["a", 1]}`; warn.Message != want {
		t.Errorf("message = %q, want %q", warn.Message, want)
	}
	attrs := recordAttrs(warn)
	if attrs["filter_id"] != "stub" || attrs["transform_call"] != "1" {
		t.Errorf("attrs = %v", attrs)
	}

	if debug := consoleRecords[1]; debug.Level != slog.LevelDebug || debug.Message != "null undefined 2.5" {
		t.Errorf("debug record = %v %q", debug.Level, debug.Message)
	}
}

func TestFormatGoValue(t *testing.T) {
	cyclic := map[string]interface{}{"name": "loop"}
	cyclic["self"] = cyclic

	deep := interface{}("leaf")
	for i := 0; i <= MaxObjectDepth+1; i++ {
		deep = []interface{}{deep}
	}

	long := make([]interface{}, maxArrayElements+3)
	for i := range long {
		long[i] = 0
	}

	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"cycle", cyclic, `{"name": "loop", "self": [Circular]}`},
		{"string quoted", []interface{}{"a\"b"}, `["a\"b"]`},
		{"nil", nil, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatGoValue(tt.value, 0, map[uintptr]bool{}); got != tt.want {
				t.Errorf("formatGoValue() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := formatGoValue(deep, 0, map[uintptr]bool{}); !strings.Contains(got, "[Object]") {
		t.Errorf("deep value should be truncated: %s", got)
	}
	if got := formatGoValue(long, 0, map[uintptr]bool{}); !strings.Contains(got, "... 3 more items") {
		t.Errorf("long array should be truncated: %s", got)
	}
}
