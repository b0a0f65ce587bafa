package input

import (
	"context"

	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/schema"
)

// RandomSource generates one event per call from a JSON Schema template.
type RandomSource struct {
	template  *schema.Template
	generator *schema.Generator
}

// NewRandomSource loads and compiles the template at path.
// Unreadable files are I/O errors; invalid templates are schema errors.
func NewRandomSource(path string, opts schema.GeneratorOptions) (*RandomSource, error) {
	tmpl, err := schema.LoadTemplate(path)
	if err != nil {
		return nil, err
	}
	return NewRandomSourceFromTemplate(tmpl, opts)
}

// NewRandomSourceFromTemplate builds a source around an already compiled
// template. One value is generated and validated up front on a separate
// generator, so a template the generator cannot serve is a schema error
// here rather than a failure on every cycle.
func NewRandomSourceFromTemplate(tmpl *schema.Template, opts schema.GeneratorOptions) (*RandomSource, error) {
	trial, err := schema.NewGenerator(opts).Generate(tmpl)
	if err != nil {
		return nil, err
	}
	if err := tmpl.Validate(trial); err != nil {
		return nil, errhandling.NewSchemaError(tmpl.Source, "generated value does not satisfy the template", err)
	}
	return &RandomSource{
		template:  tmpl,
		generator: schema.NewGenerator(opts),
	}, nil
}

// Template returns the compiled template.
func (s *RandomSource) Template() *schema.Template {
	return s.template
}

// Next generates an event. Random sources never reach end of stream.
func (s *RandomSource) Next(ctx context.Context) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.generator.Generate(s.template)
}

// Close is a no-op.
func (s *RandomSource) Close() error {
	return nil
}

var _ Module = (*RandomSource)(nil)
