package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/metrics"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/output"
	"github.com/PlainsightAI/filter-stub-application/internal/registry"
	"github.com/PlainsightAI/filter-stub-application/internal/schema"
	"github.com/PlainsightAI/filter-stub-application/pkg/frame"
)

const twoEvents = "{\"id\": \"test1\", \"value\": 1}\n{\"id\": \"test2\", \"value\": 2}\n"

const sensorTemplate = `{
  "type": "object",
  "properties": {
    "event": {"type": "string", "enum": ["reading", "alert"]},
    "value": {"type": "integer", "minimum": 1, "maximum": 1000},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "required": ["event", "value"]
}`

// echoConfig returns a config replaying content, writing into a fresh directory.
func echoConfig(t *testing.T, content string) config.Config {
	t.Helper()
	dir := t.TempDir()
	events := filepath.Join(dir, "input", "events.json")
	if err := os.MkdirAll(filepath.Dir(events), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(events, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Defaults()
	cfg.InputJSONEventsFilePath = events
	cfg.OutputJSONPath = filepath.Join(dir, "output", "output.json")
	return cfg
}

func newFilter(t *testing.T, cfg config.Config) (*StubFilter, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	f := New(m)
	if err := f.Setup(cfg); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	t.Cleanup(func() { _ = f.Shutdown() })
	return f, m
}

func outputLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if !json.Valid(scanner.Bytes()) {
			t.Fatalf("output line %d is not valid JSON: %q", len(lines)+1, scanner.Text())
		}
		lines = append(lines, scanner.Text())
	}
	return lines
}

func runCycles(t *testing.T, f *StubFilter, n int) []*frame.Result {
	t.Helper()
	results := make([]*frame.Result, 0, n)
	for i := 0; i < n; i++ {
		res, err := f.Process(context.Background(), nil)
		if err != nil {
			t.Fatalf("Process() cycle %d error = %v", i+1, err)
		}
		results = append(results, res)
	}
	return results
}

func TestStubFilter_Lifecycle(t *testing.T) {
	cfg := echoConfig(t, twoEvents)
	m := metrics.New(prometheus.NewRegistry())
	f := New(m)
	ctx := context.Background()

	if f.State() != StateUninitialized {
		t.Fatalf("initial state = %v", f.State())
	}
	if _, err := f.Process(ctx, nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Process() before Setup = %v, want ErrNotRunning", err)
	}

	if err := f.Setup(cfg); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if f.State() != StateReady {
		t.Errorf("state after Setup = %v, want ready", f.State())
	}
	if err := f.Setup(cfg); !errors.Is(err, ErrAlreadySetUp) {
		t.Errorf("second Setup() = %v, want ErrAlreadySetUp", err)
	}

	if _, err := f.Process(ctx, nil); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if f.State() != StateRunning {
		t.Errorf("state after Process = %v, want running", f.State())
	}
	if got := testutil.ToFloat64(m.FilterState); got != float64(StateRunning) {
		t.Errorf("filter_state gauge = %v", got)
	}

	if err := f.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := f.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if f.State() != StateStopped {
		t.Errorf("state after Shutdown = %v", f.State())
	}
	if _, err := f.Process(ctx, nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Process() after Shutdown = %v, want ErrNotRunning", err)
	}
	if err := f.Setup(cfg); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Setup() after Shutdown = %v, want ErrNotRunning", err)
	}
	if f.Cycles() != 1 {
		t.Errorf("Cycles() = %d, want 1", f.Cycles())
	}
}

func TestStubFilter_SetupErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, cfg *config.Config)
		check  func(error) bool
	}{
		{
			name:   "bogus mode",
			mutate: func(_ *testing.T, cfg *config.Config) { cfg.OutputMode = "bogus" },
			check:  errhandling.IsConfigError,
		},
		{
			name: "missing events file",
			mutate: func(t *testing.T, cfg *config.Config) {
				cfg.InputJSONEventsFilePath = filepath.Join(t.TempDir(), "missing.json")
			},
			check: errhandling.IsIOError,
		},
		{
			name: "invalid template",
			mutate: func(t *testing.T, cfg *config.Config) {
				path := filepath.Join(t.TempDir(), "template.json")
				if err := os.WriteFile(path, []byte(`{"type": "object", "properties": {"x": {"type": 5}}}`), 0o644); err != nil {
					t.Fatal(err)
				}
				cfg.OutputMode = config.ModeRandom
				cfg.InputJSONTemplateFilePath = path
			},
			check: errhandling.IsSchemaError,
		},
		{
			name: "unwritable output",
			mutate: func(t *testing.T, cfg *config.Config) {
				blocker := filepath.Join(t.TempDir(), "blocker")
				if err := os.WriteFile(blocker, nil, 0o644); err != nil {
					t.Fatal(err)
				}
				cfg.OutputJSONPath = filepath.Join(blocker, "output.json")
			},
			check: errhandling.IsIOError,
		},
		{
			name: "template the generator cannot serve",
			mutate: func(t *testing.T, cfg *config.Config) {
				path := filepath.Join(t.TempDir(), "template.json")
				doc := `{"type": "string", "pattern": "^[a-z]{2}$", "minLength": 5}`
				if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
					t.Fatal(err)
				}
				cfg.OutputMode = config.ModeRandom
				cfg.InputJSONTemplateFilePath = path
			},
			check: errhandling.IsSchemaError,
		},
		{
			name:   "invalid condition",
			mutate: func(_ *testing.T, cfg *config.Config) { cfg.EventCondition = "value >" },
			check:  errhandling.IsConfigError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := echoConfig(t, twoEvents)
			tt.mutate(t, &cfg)

			f := New(nil)
			err := f.Setup(cfg)
			if err == nil || !tt.check(err) {
				t.Fatalf("Setup() error = %v", err)
			}
			if f.State() != StateUninitialized {
				t.Errorf("state after failed Setup = %v, want uninitialized", f.State())
			}
		})
	}
}

func TestStubFilter_EchoLoopEndToEnd(t *testing.T) {
	cfg := echoConfig(t, twoEvents)
	cfg.LoopEvents = true
	f, m := newFilter(t, cfg)

	results := runCycles(t, f, 3)
	for i, res := range results {
		if !res.Emitted || res.Cycle != int64(i+1) {
			t.Errorf("cycle %d result = %+v", i+1, res)
		}
	}
	if err := f.Shutdown(); err != nil {
		t.Fatal(err)
	}

	lines := outputLines(t, cfg.OutputJSONPath)
	if len(lines) != 3 {
		t.Fatalf("got %d output lines, want 3", len(lines))
	}
	if lines[2] != lines[0] {
		t.Errorf("line 3 = %s, want it to repeat line 1 = %s", lines[2], lines[0])
	}
	if lines[0] != `{"id":"test1","value":1}` {
		t.Errorf("line 1 = %s", lines[0])
	}

	if got := testutil.ToFloat64(m.EventsEmitted.WithLabelValues("echo")); got != 3 {
		t.Errorf("events_emitted_total = %v", got)
	}
	if got := testutil.ToFloat64(m.CyclesTotal); got != 3 {
		t.Errorf("cycles_total = %v", got)
	}
	if got := testutil.ToFloat64(m.OutputBytes); got == 0 {
		t.Error("output_bytes_total should count written bytes")
	}
}

func TestStubFilter_EchoWithoutLoop(t *testing.T) {
	cfg := echoConfig(t, twoEvents)
	f, m := newFilter(t, cfg)

	results := runCycles(t, f, 4)
	for _, res := range results[2:] {
		if res.Emitted || res.SkipReason != ReasonEndOfStream {
			t.Errorf("cycle %d = %+v, want end of stream", res.Cycle, res)
		}
	}
	if n := len(outputLines(t, cfg.OutputJSONPath)); n != 2 {
		t.Errorf("got %d lines, want 2", n)
	}
	if got := testutil.ToFloat64(m.EventsSkipped.WithLabelValues(ReasonEndOfStream)); got != 2 {
		t.Errorf("events_skipped_total{end_of_stream} = %v", got)
	}
}

func TestStubFilter_MalformedLinePolicy(t *testing.T) {
	content := "{\"n\": 1}\n{broken\n{\"n\": 3}\n"

	t.Run("fail skips the cycle", func(t *testing.T) {
		cfg := echoConfig(t, content)
		cfg.MalformedLinePolicy = config.PolicyFail
		f, m := newFilter(t, cfg)

		results := runCycles(t, f, 3)
		if results[1].Emitted || results[1].SkipReason != ReasonMalformedLine {
			t.Errorf("cycle 2 = %+v, want malformed line", results[1])
		}
		if !results[2].Emitted {
			t.Error("cycle 3 should emit the line after the malformed one")
		}
		if got := testutil.ToFloat64(m.CycleErrors.WithLabelValues(string(errhandling.CategoryMalformedLine))); got != 1 {
			t.Errorf("cycle_errors_total{malformed_line} = %v", got)
		}
	})

	t.Run("skip continues in the same cycle", func(t *testing.T) {
		cfg := echoConfig(t, content)
		f, _ := newFilter(t, cfg)

		results := runCycles(t, f, 2)
		if !results[0].Emitted || !results[1].Emitted {
			t.Errorf("results = %+v %+v", results[0], results[1])
		}
		n := results[1].Event.(map[string]interface{})["n"]
		if n != json.Number("3") {
			t.Errorf("cycle 2 event n = %v, want 3", n)
		}
	})
}

func TestStubFilter_RandomMode(t *testing.T) {
	cfg := echoConfig(t, "")
	path := filepath.Join(t.TempDir(), "template.json")
	if err := os.WriteFile(path, []byte(sensorTemplate), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.OutputMode = config.ModeRandom
	cfg.InputJSONTemplateFilePath = path
	cfg.RandomSeed = 7
	f, _ := newFilter(t, cfg)
	runCycles(t, f, 10)

	tmpl, err := schema.LoadTemplate(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := outputLines(t, cfg.OutputJSONPath)
	if len(lines) != 10 {
		t.Fatalf("got %d lines, want 10", len(lines))
	}
	for i, line := range lines {
		var event interface{}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatal(err)
		}
		if err := tmpl.Validate(event); err != nil {
			t.Errorf("line %d does not conform to the template: %v", i+1, err)
		}
	}
}

func TestStubFilter_Forwarding(t *testing.T) {
	upstream := []frame.Frame{
		{Topic: "main", Data: map[string]interface{}{"test": "data"}},
		{Topic: "image", Data: map[string]interface{}{"image_data": "value"}, Image: []byte{1, 2, 3}, Format: "RGB"},
		{Topic: "metadata", Data: map[string]interface{}{"meta": "info"}},
	}

	tests := []struct {
		name    string
		forward bool
		publish bool
		order   config.ForwardOrder
		want    []string
	}{
		{"forward on", true, false, config.OrderAfter, []string{"main", "metadata"}},
		{"forward off", false, false, config.OrderAfter, []string{}},
		{"publish after", true, true, config.OrderAfter, []string{"events", "main", "metadata"}},
		{"publish before", true, true, config.OrderBefore, []string{"main", "metadata", "events"}},
		{"publish only", false, true, config.OrderAfter, []string{"events"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := echoConfig(t, twoEvents)
			cfg.ForwardUpstreamData = tt.forward
			cfg.PublishEvent = tt.publish
			cfg.ForwardOrder = tt.order
			f, _ := newFilter(t, cfg)

			res, err := f.Process(context.Background(), upstream)
			if err != nil {
				t.Fatal(err)
			}
			if got := res.Topics(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("topics = %v, want %v", got, tt.want)
			}
			for _, fr := range res.Frames {
				if fr.HasImage() {
					t.Error("image frames must never be forwarded")
				}
				if fr.Topic == "main" && fr.Data["test"] != "data" {
					t.Errorf("forwarded frame changed: %+v", fr)
				}
				if fr.Topic == "events" {
					ev := fr.Data[frame.EventKey].(map[string]interface{})
					if ev["id"] != "test1" {
						t.Errorf("event frame = %+v", fr)
					}
				}
			}
		})
	}

	t.Run("skipped cycles still forward", func(t *testing.T) {
		cfg := echoConfig(t, "")
		cfg.PublishEvent = true
		f, _ := newFilter(t, cfg)
		res, err := f.Process(context.Background(), upstream)
		if err != nil {
			t.Fatal(err)
		}
		if res.Emitted || !reflect.DeepEqual(res.Topics(), []string{"main", "metadata"}) {
			t.Errorf("result = %+v", res)
		}
	})
}

func TestStubFilter_Transforms(t *testing.T) {
	cfg := echoConfig(t, twoEvents)
	cfg.EventCondition = "value > 1"
	cfg.EventScript = `function transform(e) { e.value = e.value * 10; return e; }`
	f, m := newFilter(t, cfg)

	results := runCycles(t, f, 2)
	if results[0].Emitted || results[0].SkipReason != ReasonDropped {
		t.Errorf("cycle 1 = %+v, want dropped", results[0])
	}
	if !results[1].Emitted {
		t.Fatalf("cycle 2 = %+v", results[1])
	}
	if lines := outputLines(t, cfg.OutputJSONPath); len(lines) != 1 || lines[0] != `{"id":"test2","value":20}` {
		t.Errorf("output = %v", lines)
	}
	if got := testutil.ToFloat64(m.EventsSkipped.WithLabelValues(ReasonDropped)); got != 1 {
		t.Errorf("events_skipped_total{dropped} = %v", got)
	}
}

func TestStubFilter_FieldShaping(t *testing.T) {
	cfg := echoConfig(t, twoEvents)
	cfg.EventSetFields = map[string]interface{}{"source": "stub", "meta.zone": "A"}
	cfg.EventRemoveFields = []string{"value"}
	f, _ := newFilter(t, cfg)

	runCycles(t, f, 1)
	lines := outputLines(t, cfg.OutputJSONPath)
	if len(lines) != 1 || lines[0] != `{"id":"test1","meta":{"zone":"A"},"source":"stub"}` {
		t.Errorf("output = %v", lines)
	}
}

func TestStubFilter_TransformError(t *testing.T) {
	cfg := echoConfig(t, twoEvents)
	cfg.EventScript = `function transform(e) { if (e.id === "test1") { throw new Error("nope"); } return e; }`
	f, m := newFilter(t, cfg)

	results := runCycles(t, f, 2)
	if results[0].SkipReason != ReasonTransformError || !results[1].Emitted {
		t.Errorf("results = %+v %+v", results[0], results[1])
	}
	if got := testutil.ToFloat64(m.CycleErrors.WithLabelValues("transform")); got != 1 {
		t.Errorf("cycle_errors_total{transform} = %v", got)
	}
}

// scriptedSink fails every Send with err.
type scriptedSink struct {
	err    error
	sent   int
	closed bool
}

func (s *scriptedSink) Send(context.Context, interface{}) error {
	s.sent++
	return s.err
}

func (s *scriptedSink) Close() error {
	s.closed = true
	return nil
}

func withExtraOutput(t *testing.T, sink output.Module) {
	t.Helper()
	registry.RegisterOutput("test_sink", func(*config.Config, *metrics.Metrics) (output.Module, error) {
		return sink, nil
	})
	t.Cleanup(func() {
		registry.ClearRegistries()
		registry.RegisterBuiltins()
	})
}

func TestStubFilter_FatalOutputError(t *testing.T) {
	sink := &scriptedSink{err: errhandling.NewIOError("write output", "/dev/full", errors.New("no space left on device"))}
	withExtraOutput(t, sink)

	cfg := echoConfig(t, twoEvents)
	f, _ := newFilter(t, cfg)

	_, err := f.Process(context.Background(), nil)
	if !errhandling.IsIOError(err) {
		t.Fatalf("Process() error = %v, want io error", err)
	}
	if f.State() != StateStopped {
		t.Errorf("state = %v, want stopped", f.State())
	}
	if !sink.closed {
		t.Error("sinks should be closed after a fatal error")
	}
	if _, err := f.Process(context.Background(), nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Process() after fatal error = %v", err)
	}
}

func TestStubFilter_MirrorErrorIsNotFatal(t *testing.T) {
	sink := &scriptedSink{err: errors.New("broker unavailable")}
	withExtraOutput(t, sink)

	cfg := echoConfig(t, twoEvents)
	f, m := newFilter(t, cfg)

	results := runCycles(t, f, 2)
	for _, res := range results {
		if !res.Emitted {
			t.Errorf("cycle %d should still emit to the file: %+v", res.Cycle, res)
		}
	}
	if sink.sent != 2 {
		t.Errorf("mirror received %d events, want 2", sink.sent)
	}
	if got := testutil.ToFloat64(m.CycleErrors.WithLabelValues("mirror")); got != 2 {
		t.Errorf("cycle_errors_total{mirror} = %v", got)
	}
	if f.State() != StateRunning {
		t.Errorf("state = %v", f.State())
	}
}

func TestStubFilter_ResumesReplayFromCheckpoint(t *testing.T) {
	cfg := echoConfig(t, twoEvents)
	cfg.StateDir = filepath.Join(t.TempDir(), "state")

	first := New(metrics.New(prometheus.NewRegistry()))
	if err := first.Setup(cfg); err != nil {
		t.Fatal(err)
	}
	runCycles(t, first, 1)
	if err := first.Shutdown(); err != nil {
		t.Fatal(err)
	}

	cfg.OutputJSONPath = filepath.Join(t.TempDir(), "second.json")
	second, _ := newFilter(t, cfg)
	res := runCycles(t, second, 1)[0]
	if !res.Emitted {
		t.Fatalf("cycle skipped: %s", res.SkipReason)
	}
	if id := res.Event.(map[string]interface{})["id"]; id != "test2" {
		t.Errorf("resumed event id = %v, want test2", id)
	}

	t.Run("other events file starts over", func(t *testing.T) {
		other := echoConfig(t, twoEvents)
		other.StateDir = cfg.StateDir
		f, _ := newFilter(t, other)
		res := runCycles(t, f, 1)[0]
		if id := res.Event.(map[string]interface{})["id"]; id != "test1" {
			t.Errorf("event id = %v, want test1", id)
		}
	})
}

func TestStubFilter_CheckpointSaveFailureIsNotFatal(t *testing.T) {
	cfg := echoConfig(t, twoEvents)
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.StateDir = filepath.Join(blocker, "state")
	f, m := newFilter(t, cfg)

	res := runCycles(t, f, 1)[0]
	if !res.Emitted {
		t.Errorf("cycle skipped: %s", res.SkipReason)
	}
	if got := testutil.ToFloat64(m.CycleErrors.WithLabelValues("state")); got != 1 {
		t.Errorf("state errors = %v, want 1", got)
	}
}

func TestStubFilter_FatalErrorDoesNotCheckpointUndeliveredEvent(t *testing.T) {
	sink := &scriptedSink{err: errhandling.NewIOError("write output", "/dev/full", errors.New("no space left on device"))}
	withExtraOutput(t, sink)

	cfg := echoConfig(t, twoEvents)
	cfg.StateDir = filepath.Join(t.TempDir(), "state")

	failing := New(metrics.New(prometheus.NewRegistry()))
	if err := failing.Setup(cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := failing.Process(context.Background(), nil); !errhandling.IsIOError(err) {
		t.Fatalf("Process() error = %v, want io error", err)
	}

	registry.ClearRegistries()
	registry.RegisterBuiltins()

	cfg.OutputJSONPath = filepath.Join(t.TempDir(), "retry.json")
	f, _ := newFilter(t, cfg)
	res := runCycles(t, f, 1)[0]
	if !res.Emitted {
		t.Fatalf("cycle skipped: %s", res.SkipReason)
	}
	if id := res.Event.(map[string]interface{})["id"]; id != "test1" {
		t.Errorf("event after restart = %v, want test1 replayed", id)
	}
}
