package input

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/schema"
)

const readingTemplate = `{
  "type": "object",
  "properties": {
    "id": {"type": "string", "pattern": "^event_[0-9]+$"},
    "value": {"type": "integer", "minimum": 0, "maximum": 100}
  },
  "required": ["id", "value"]
}`

func TestRandomSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.json")
	if err := os.WriteFile(path, []byte(readingTemplate), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewRandomSource(path, schema.GeneratorOptions{Seed: 11, OptionalProbability: 0.5})
	if err != nil {
		t.Fatalf("NewRandomSource() error = %v", err)
	}
	defer src.Close()

	for i := 0; i < 20; i++ {
		ev, err := src.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if err := src.Template().Validate(ev); err != nil {
			t.Fatalf("event %v does not validate: %v", ev, err)
		}
	}
}

func TestNewRandomSource_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing template", func(t *testing.T) {
		_, err := NewRandomSource(filepath.Join(dir, "missing.json"), schema.DefaultGeneratorOptions())
		if !errhandling.IsIOError(err) {
			t.Errorf("expected io error, got %v", err)
		}
	})

	t.Run("invalid template", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(path, []byte(`{"type": 5}`), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := NewRandomSource(path, schema.DefaultGeneratorOptions())
		if !errhandling.IsSchemaError(err) {
			t.Errorf("expected schema error, got %v", err)
		}
	})
}

func TestNewRandomSourceFromTemplate_UnsatisfiableTemplate(t *testing.T) {
	// Compiles, but no string of length >= 5 matches a two-letter pattern.
	tmpl, err := schema.Compile([]byte(`{"type": "string", "pattern": "^[a-z]{2}$", "minLength": 5}`), "short.json")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	_, err = NewRandomSourceFromTemplate(tmpl, schema.GeneratorOptions{Seed: 1})
	if !errhandling.IsSchemaError(err) {
		t.Errorf("expected schema error, got %v", err)
	}
}
