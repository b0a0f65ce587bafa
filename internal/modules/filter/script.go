package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dop251/goja"

	"github.com/PlainsightAI/filter-stub-application/internal/logger"
	"github.com/PlainsightAI/filter-stub-application/internal/pathutil"
)

// MaxScriptLength is the maximum script size in bytes.
const MaxScriptLength = 100 * 1024

// ScriptConfig configures a Script transform. Exactly one of Source and
// File must be set.
type ScriptConfig struct {
	Source string
	File   string
	// FilterID labels console output from the script.
	FilterID string
}

// Script rewrites events with a JavaScript transform(event) function.
//
// The function receives the event with plain numbers and returns the event
// to emit. Returning null or undefined drops the event for the cycle.
// A goja runtime is not goroutine-safe: Apply must not be called
// concurrently on the same Script.
type Script struct {
	runtime     *goja.Runtime
	transformFn goja.Callable
	console     *jsConsole
	calls       int64
}

// NewScript compiles the script and looks up its transform function.
func NewScript(cfg ScriptConfig) (*Script, error) {
	source, err := scriptSource(cfg)
	if err != nil {
		return nil, err
	}
	if isBlank(source) {
		return nil, newError("script", ErrCodeScriptEmpty, "script cannot be empty", nil)
	}
	if len(source) > MaxScriptLength {
		return nil, newError("script", ErrCodeScriptTooLong,
			fmt.Sprintf("script is %d bytes, maximum is %d", len(source), MaxScriptLength), nil)
	}

	rt := goja.New()
	console, err := newJSConsole(rt, cfg.FilterID)
	if err != nil {
		return nil, fmt.Errorf("install script console: %w", err)
	}
	if _, err := rt.RunString(source); err != nil {
		return nil, newError("script", ErrCodeCompilationFailed,
			fmt.Sprintf("script compilation failed: %v", err), err)
	}

	transformVal := rt.Get("transform")
	if transformVal == nil || goja.IsUndefined(transformVal) {
		return nil, newError("script", ErrCodeMissingTransform, "transform function not found in script", nil)
	}
	transformFn, ok := goja.AssertFunction(transformVal)
	if !ok {
		return nil, newError("script", ErrCodeMissingTransform, "transform is not a function", nil)
	}

	logger.Debug("script transform initialized",
		slog.Int("script_length", len(source)),
		slog.Bool("from_file", cfg.File != ""))

	return &Script{runtime: rt, transformFn: transformFn, console: console}, nil
}

func scriptSource(cfg ScriptConfig) (string, error) {
	switch {
	case cfg.Source != "" && cfg.File != "":
		return "", newError("script", ErrCodeScriptFile, "inline script and script file are mutually exclusive", nil)
	case cfg.Source != "":
		return cfg.Source, nil
	case cfg.File == "":
		return "", newError("script", ErrCodeScriptEmpty, "either an inline script or a script file is required", nil)
	}

	if err := pathutil.ValidateFilePath(cfg.File); err != nil {
		return "", newError("script", ErrCodeScriptFile, err.Error(), err)
	}
	f, err := os.Open(cfg.File)
	if err != nil {
		return "", newError("script", ErrCodeScriptFile, fmt.Sprintf("open script file %q: %v", cfg.File, err), err)
	}
	defer f.Close()

	// Read one byte past the limit to detect oversized files.
	content, err := io.ReadAll(io.LimitReader(f, MaxScriptLength+1))
	if err != nil {
		return "", newError("script", ErrCodeScriptFile, fmt.Sprintf("read script file %q: %v", cfg.File, err), err)
	}
	if len(content) > MaxScriptLength {
		return "", newError("script", ErrCodeScriptTooLong,
			fmt.Sprintf("script file %q is larger than %d bytes", cfg.File, MaxScriptLength), nil)
	}
	return string(content), nil
}

// Apply calls transform(event). Canceling ctx interrupts a running script.
func (s *Script) Apply(ctx context.Context, event interface{}) (interface{}, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.calls++
	s.console.setCall(s.calls)

	done := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			s.runtime.Interrupt(ctx.Err().Error())
		case <-done:
		}
	}()

	result, err := s.transformFn(goja.Undefined(), s.runtime.ToValue(plainValue(event)))

	// The watcher must be gone before clearing, or a late interrupt would
	// hit the next call.
	close(done)
	<-watcherDone
	s.runtime.ClearInterrupt()

	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, s.executionError(err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, false, nil
	}

	out := result.Export()
	if _, err := json.Marshal(out); err != nil {
		return nil, false, newError("script", ErrCodeExecutionFailed,
			fmt.Sprintf("transform returned a value that is not JSON: %v", err), err)
	}
	return out, true, nil
}

func (s *Script) executionError(err error) error {
	if jsErr, ok := err.(*goja.Exception); ok {
		return newError("script", ErrCodeExecutionFailed,
			fmt.Sprintf("transform threw: %v", jsErr.Value()), err)
	}
	return newError("script", ErrCodeExecutionFailed, fmt.Sprintf("transform failed: %v", err), err)
}

var _ Module = (*Script)(nil)
