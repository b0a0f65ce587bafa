package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/metrics"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/filter"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/input"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/output"
)

type nopSource struct{}

func (nopSource) Next(context.Context) (interface{}, error) { return nil, input.ErrEndOfStream }
func (nopSource) Close() error                              { return nil }

func TestRegister(t *testing.T) {
	ClearRegistries()
	t.Cleanup(func() {
		ClearRegistries()
		RegisterBuiltins()
	})

	called := false
	RegisterInput("replay", func(*config.Config) (input.Module, error) {
		called = true
		return nopSource{}, nil
	})
	got := GetInputConstructor("replay")
	if got == nil {
		t.Fatal("expected constructor, got nil")
	}
	if _, err := got(&config.Config{}); err != nil || !called {
		t.Errorf("constructor not called: %v", err)
	}
	if GetInputConstructor("missing") != nil {
		t.Error("unknown mode should have no constructor")
	}

	noFilter := func(*config.Config) (filter.Module, error) { return nil, nil }
	RegisterFilter("b", noFilter)
	RegisterFilter("a", noFilter)
	RegisterFilter("b", noFilter)
	if got := ListFilterTypes(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("ListFilterTypes() = %v, want registration order", got)
	}

	noOutput := func(*config.Config, *metrics.Metrics) (output.Module, error) { return nil, nil }
	RegisterOutput("z", noOutput)
	RegisterOutput("y", noOutput)
	if got := ListOutputTypes(); !reflect.DeepEqual(got, []string{"z", "y"}) {
		t.Errorf("ListOutputTypes() = %v", got)
	}
}

func TestBuiltins(t *testing.T) {
	if got := ListInputTypes(); !reflect.DeepEqual(got, []string{"echo", "random"}) {
		t.Errorf("ListInputTypes() = %v", got)
	}
	if got := ListFilterTypes(); !reflect.DeepEqual(got, []string{"condition", "script", "set", "remove"}) {
		t.Errorf("ListFilterTypes() = %v", got)
	}
	if got := ListOutputTypes(); !reflect.DeepEqual(got, []string{"file", "kafka"}) {
		t.Errorf("ListOutputTypes() = %v", got)
	}
}

func TestBuiltinConstructors(t *testing.T) {
	dir := t.TempDir()
	events := filepath.Join(dir, "events.json")
	if err := os.WriteFile(events, []byte("{\"id\": 1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.InputJSONEventsFilePath = events
	cfg.OutputJSONPath = filepath.Join(dir, "out", "output.json")

	src, err := GetInputConstructor("echo")(&cfg)
	if err != nil {
		t.Fatalf("echo constructor error = %v", err)
	}
	src.Close()

	t.Run("unconfigured transforms are nil", func(t *testing.T) {
		for _, name := range []string{"condition", "script", "set", "remove"} {
			m, err := GetFilterConstructor(name)(&cfg)
			if err != nil || m != nil {
				t.Errorf("%s: module = %v, err = %v", name, m, err)
			}
		}
	})

	t.Run("kafka disabled by default", func(t *testing.T) {
		m, err := GetOutputConstructor("kafka")(&cfg, nil)
		if err != nil || m != nil {
			t.Errorf("module = %v, err = %v", m, err)
		}
	})

	t.Run("bad condition is a config error", func(t *testing.T) {
		bad := cfg
		bad.EventCondition = "value >"
		_, err := GetFilterConstructor("condition")(&bad)
		var se *errhandling.StubError
		if !errors.As(err, &se) || se.Key != config.KeyEventCondition {
			t.Errorf("expected config error for %s, got %v", config.KeyEventCondition, err)
		}
	})

	t.Run("bad field path is a config error", func(t *testing.T) {
		bad := cfg
		bad.EventRemoveFields = []string{"items[x]"}
		_, err := GetFilterConstructor("remove")(&bad)
		var se *errhandling.StubError
		if !errors.As(err, &se) || se.Key != config.KeyEventRemoveFields {
			t.Errorf("expected config error for %s, got %v", config.KeyEventRemoveFields, err)
		}
	})

	t.Run("missing template is an io error", func(t *testing.T) {
		random := cfg
		random.OutputMode = config.ModeRandom
		random.InputJSONTemplateFilePath = filepath.Join(dir, "missing.json")
		m, err := GetInputConstructor("random")(&random)
		if !errhandling.IsIOError(err) {
			t.Errorf("expected io error, got %v", err)
		}
		if m != nil {
			t.Error("failed constructor must return a nil module")
		}
	})

	t.Run("generator options", func(t *testing.T) {
		opts := cfg
		opts.RandomSeed = 9
		opts.OptionalProbability = 0.75
		got := GeneratorOptions(&opts)
		if got.Seed != 9 || got.OptionalProbability != 0.75 {
			t.Errorf("GeneratorOptions() = %+v", got)
		}
	})
}
