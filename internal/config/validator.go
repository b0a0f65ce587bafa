package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

//go:embed schema/filter-config.json
var embeddedSchema []byte

const schemaURL = "https://plainsight.ai/schemas/filter-stub/v1/filter-config.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

// GetEmbeddedSchema returns the embedded configuration schema.
func GetEmbeddedSchema() []byte {
	return embeddedSchema
}

func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(embeddedSchema))
		if err != nil {
			schemaInitErr = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaInitErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		compiledSchema, err = compiler.Compile(schemaURL)
		if err != nil {
			schemaInitErr = fmt.Errorf("failed to compile schema: %w", err)
		}
	})
	return compiledSchema, schemaInitErr
}

// ValidateConfig validates a raw configuration map against the embedded schema.
// An empty map is valid: every key has a default.
func ValidateConfig(data map[string]interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if data == nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "required",
			Message: "configuration data is nil",
		})
		return result
	}

	schema, err := getCompiledSchema()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "schema",
			Message: fmt.Sprintf("failed to load schema: %v", err),
		})
		return result
	}

	// YAML decodes to Go ints and JSON to json.Number; normalize both.
	instance, err := normalizeInstance(data)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "type",
			Message: err.Error(),
		})
		return result
	}

	if err := schema.Validate(instance); err != nil {
		result.Valid = false
		var detailed *jsonschema.ValidationError
		if errors.As(err, &detailed) {
			result.Errors = convertValidationErrors(detailed)
		}
		if len(result.Errors) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "/",
				Type:    "validation",
				Message: err.Error(),
			})
		}
		sort.SliceStable(result.Errors, func(i, j int) bool {
			return result.Errors[i].Path < result.Errors[j].Path
		})
	}

	return result
}

func normalizeInstance(data map[string]interface{}) (interface{}, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("configuration is not JSON-compatible: %w", err)
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// convertValidationErrors flattens the jsonschema error tree into leaf errors.
func convertValidationErrors(err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		msg := err.Error()
		if err.ErrorKind != nil {
			msg = err.ErrorKind.LocalizedString(printer)
		}
		return []ValidationError{{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    extractErrorType(msg),
			Message: msg,
		}}
	}

	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, convertValidationErrors(cause)...)
	}
	return out
}

func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

func extractErrorType(msg string) string {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "required"):
		return "required"
	case strings.Contains(msg, "pattern") || strings.Contains(msg, "does not match"):
		return "pattern"
	case strings.Contains(msg, "got ") && strings.Contains(msg, "want "):
		return "type"
	case strings.Contains(msg, "minimum") || strings.Contains(msg, "maximum"):
		return "range"
	case strings.Contains(msg, "enum"):
		return "enum"
	default:
		return "validation"
	}
}
