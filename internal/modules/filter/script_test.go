package filter

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func mustScript(t *testing.T, source string) *Script {
	t.Helper()
	s, err := NewScript(ScriptConfig{Source: source})
	if err != nil {
		t.Fatalf("NewScript() error = %v", err)
	}
	return s
}

func TestScript_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("rewrites fields", func(t *testing.T) {
		s := mustScript(t, `function transform(e) { e.value = e.value * 2; e.tag = "doubled"; return e; }`)
		event := map[string]interface{}{"id": "event_1", "value": json.Number("21")}

		out, keep, err := s.Apply(ctx, event)
		if err != nil || !keep {
			t.Fatalf("Apply() = %v, %v, %v", out, keep, err)
		}
		want := map[string]interface{}{"id": "event_1", "value": int64(42), "tag": "doubled"}
		if !reflect.DeepEqual(out, want) {
			t.Errorf("out = %#v, want %#v", out, want)
		}
		if event["value"] != json.Number("21") {
			t.Error("input event must not be modified")
		}
	})

	t.Run("builds a new event", func(t *testing.T) {
		s := mustScript(t, `function transform(e) { return {source: e.id, ok: true, items: [1, 2.5]}; }`)
		out, _, err := s.Apply(ctx, map[string]interface{}{"id": "x"})
		if err != nil {
			t.Fatal(err)
		}
		data, _ := json.Marshal(out)
		if string(data) != `{"items":[1,2.5],"ok":true,"source":"x"}` {
			t.Errorf("out = %s", data)
		}
	})

	t.Run("non-object event", func(t *testing.T) {
		s := mustScript(t, `function transform(e) { return e + "!"; }`)
		out, keep, err := s.Apply(ctx, "hi")
		if err != nil || !keep || out != "hi!" {
			t.Errorf("Apply() = %v, %v, %v", out, keep, err)
		}
	})

	for _, ret := range []string{"null", "undefined"} {
		t.Run("returning "+ret+" drops", func(t *testing.T) {
			s := mustScript(t, `function transform(e) { return `+ret+`; }`)
			_, keep, err := s.Apply(ctx, map[string]interface{}{})
			if err != nil || keep {
				t.Errorf("keep = %v err = %v", keep, err)
			}
		})
	}

	t.Run("conditional drop", func(t *testing.T) {
		s := mustScript(t, `function transform(e) { return e.value > 10 ? e : null; }`)
		_, keep, _ := s.Apply(ctx, map[string]interface{}{"value": json.Number("3")})
		if keep {
			t.Error("small value should be dropped")
		}
		_, keep, _ = s.Apply(ctx, map[string]interface{}{"value": json.Number("30")})
		if !keep {
			t.Error("large value should be kept")
		}
	})
}

func TestScript_ApplyErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("thrown error", func(t *testing.T) {
		s := mustScript(t, `function transform(e) { throw new Error("bad event"); }`)
		_, keep, err := s.Apply(ctx, map[string]interface{}{})
		var fe *Error
		if !errors.As(err, &fe) || fe.Code != ErrCodeExecutionFailed {
			t.Fatalf("expected %s, got %v", ErrCodeExecutionFailed, err)
		}
		if !strings.Contains(err.Error(), "bad event") || keep {
			t.Errorf("err = %v keep = %v", err, keep)
		}
	})

	t.Run("non-JSON result", func(t *testing.T) {
		s := mustScript(t, `function transform(e) { return function() {}; }`)
		_, _, err := s.Apply(ctx, map[string]interface{}{})
		var fe *Error
		if !errors.As(err, &fe) || fe.Code != ErrCodeExecutionFailed {
			t.Fatalf("expected %s, got %v", ErrCodeExecutionFailed, err)
		}
	})

	t.Run("interrupted by context", func(t *testing.T) {
		s := mustScript(t, `function transform(e) { if (e.spin) { while (true) {} } return e; }`)

		timeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, _, err := s.Apply(timeout, map[string]interface{}{"spin": true})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Apply() error = %v, want deadline exceeded", err)
		}

		// The runtime must be usable again afterwards.
		if _, keep, err := s.Apply(ctx, map[string]interface{}{"spin": false}); err != nil || !keep {
			t.Errorf("Apply() after interrupt = %v, %v", keep, err)
		}
	})
}

func TestNewScript_Errors(t *testing.T) {
	dir := t.TempDir()
	scriptFile := filepath.Join(dir, "transform.js")
	if err := os.WriteFile(scriptFile, []byte(`function transform(e) { return e; }`), 0o644); err != nil {
		t.Fatal(err)
	}
	bigFile := filepath.Join(dir, "big.js")
	if err := os.WriteFile(bigFile, []byte(strings.Repeat(" ", MaxScriptLength+1)), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		cfg      ScriptConfig
		wantCode string
	}{
		{"nothing configured", ScriptConfig{}, ErrCodeScriptEmpty},
		{"whitespace only", ScriptConfig{Source: "  \n\t"}, ErrCodeScriptEmpty},
		{"both source and file", ScriptConfig{Source: "x", File: scriptFile}, ErrCodeScriptFile},
		{"missing file", ScriptConfig{File: filepath.Join(dir, "missing.js")}, ErrCodeScriptFile},
		{"oversized file", ScriptConfig{File: bigFile}, ErrCodeScriptTooLong},
		{"oversized source", ScriptConfig{Source: "//" + strings.Repeat("x", MaxScriptLength)}, ErrCodeScriptTooLong},
		{"syntax error", ScriptConfig{Source: "function transform(e) {"}, ErrCodeCompilationFailed},
		{"no transform", ScriptConfig{Source: "var x = 1;"}, ErrCodeMissingTransform},
		{"transform not a function", ScriptConfig{Source: "var transform = 5;"}, ErrCodeMissingTransform},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScript(tt.cfg)
			var fe *Error
			if !errors.As(err, &fe) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if fe.Code != tt.wantCode {
				t.Errorf("code = %s, want %s (%v)", fe.Code, tt.wantCode, err)
			}
		})
	}

	t.Run("from file", func(t *testing.T) {
		s, err := NewScript(ScriptConfig{File: scriptFile})
		if err != nil {
			t.Fatalf("NewScript() error = %v", err)
		}
		if _, keep, err := s.Apply(context.Background(), "x"); err != nil || !keep {
			t.Errorf("Apply() = %v, %v", keep, err)
		}
	})
}
