// Package schema compiles JSON Schema templates and generates random events from them.
//
// A Template is compiled twice from the same document: once by
// santhosh-tekuri/jsonschema (draft-07 by default, format assertions on) to
// reject malformed schemas and to validate generated values, and once into a
// Node tree that drives generation. Keywords that cannot be honoured by the
// generator are rejected at compile time with a schema error.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"regexp/syntax"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
)

// templateURL is the resource URL the template is registered under.
const templateURL = "https://plainsight.ai/schemas/filter-stub/template.json"

// Primitive JSON Schema type names.
const (
	TypeObject  = "object"
	TypeArray   = "array"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeNull    = "null"
)

// unsupportedKeywords are rejected because the generator cannot guarantee
// that its output satisfies them.
var unsupportedKeywords = []string{
	"$ref", "$dynamicRef", "$recursiveRef",
	"allOf", "anyOf", "oneOf", "not",
	"if", "then", "else",
	"patternProperties", "dependencies", "dependentRequired", "dependentSchemas",
	"contains", "propertyNames", "minProperties", "maxProperties",
	"unevaluatedProperties", "unevaluatedItems", "prefixItems",
}

var knownTypes = map[string]bool{
	TypeObject: true, TypeArray: true, TypeString: true, TypeNumber: true,
	TypeInteger: true, TypeBoolean: true, TypeNull: true,
}

// Node is one compiled schema node.
type Node struct {
	Types []string

	Enum     []interface{}
	Const    interface{}
	HasConst bool

	Properties    map[string]*Node
	PropertyNames []string
	Required      []string
	required      map[string]bool

	Items       *Node
	MinItems    *int
	MaxItems    *int
	UniqueItems bool

	Minimum          *float64
	Maximum          *float64
	ExclusiveMinimum bool
	ExclusiveMaximum bool
	MultipleOf       *float64

	MinLength *int
	MaxLength *int
	Pattern   string
	Format    string

	patternRE   *regexp.Regexp
	patternTree *syntax.Regexp
}

// IsRequired reports whether the named property is required.
func (n *Node) IsRequired(name string) bool {
	return n.required[name]
}

// Template is a compiled JSON Schema template.
type Template struct {
	// Source is the file the template was loaded from (empty if compiled from bytes)
	Source string
	// Root is the root of the compiled node tree
	Root *Node

	doc       interface{}
	validator *jsonschema.Schema
}

// LoadTemplate reads and compiles a template file.
// Unreadable files return an I/O error; invalid documents return a schema error.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errhandling.NewIOError("read template file", path, err)
	}
	return Compile(data, path)
}

// Compile compiles a template document. source is used in error messages only.
func Compile(data []byte, source string) (*Template, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errhandling.NewSchemaError(source, "template is empty", nil)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, errhandling.NewSchemaError(source, "template is not valid JSON", err)
	}

	switch d := doc.(type) {
	case map[string]interface{}:
	case bool:
		if !d {
			return nil, errhandling.NewSchemaError(source, "template 'false' accepts no value", nil)
		}
	default:
		return nil, errhandling.NewSchemaError(source, fmt.Sprintf("template must be a JSON object, got %T", doc), nil)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)
	compiler.AssertFormat()
	if err := compiler.AddResource(templateURL, doc); err != nil {
		return nil, errhandling.NewSchemaError(source, "failed to add template resource", err)
	}
	validator, err := compiler.Compile(templateURL)
	if err != nil {
		return nil, errhandling.NewSchemaError(source, "template is not a valid JSON Schema", err)
	}

	root, err := parseNode(doc, "#")
	if err != nil {
		return nil, errhandling.NewSchemaError(source, err.Error(), nil)
	}

	return &Template{
		Source:    source,
		Root:      root,
		doc:       doc,
		validator: validator,
	}, nil
}

// Validate validates a value against the template.
// The value is round-tripped through JSON first so that any Go representation
// (int64, float64, json.Number, nested maps) is checked as it will be written.
func (t *Template) Validate(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	return t.validator.Validate(inst)
}

// parseNode converts a decoded schema value into a Node.
// ptr is the JSON pointer of the node, used in error messages.
func parseNode(v interface{}, ptr string) (*Node, error) {
	switch s := v.(type) {
	case bool:
		if !s {
			return nil, fmt.Errorf("%s: schema 'false' accepts no value", ptr)
		}
		return &Node{}, nil
	case map[string]interface{}:
		return parseObjectNode(s, ptr)
	default:
		return nil, fmt.Errorf("%s: schema must be an object or boolean, got %T", ptr, v)
	}
}

func parseObjectNode(s map[string]interface{}, ptr string) (*Node, error) {
	for _, kw := range unsupportedKeywords {
		if _, ok := s[kw]; ok {
			return nil, fmt.Errorf("%s: unsupported keyword %q", ptr, kw)
		}
	}

	n := &Node{}
	var err error

	if n.Types, err = parseTypes(s["type"], ptr); err != nil {
		return nil, err
	}

	if e, ok := s["enum"]; ok {
		values, isArr := e.([]interface{})
		if !isArr || len(values) == 0 {
			return nil, fmt.Errorf("%s/enum: must be a non-empty array", ptr)
		}
		n.Enum = values
	}
	if c, ok := s["const"]; ok {
		n.Const = c
		n.HasConst = true
	}

	if err := parseObjectKeywords(n, s, ptr); err != nil {
		return nil, err
	}
	if err := parseArrayKeywords(n, s, ptr); err != nil {
		return nil, err
	}
	if err := parseNumberKeywords(n, s, ptr); err != nil {
		return nil, err
	}
	if err := parseStringKeywords(n, s, ptr); err != nil {
		return nil, err
	}

	if len(n.Types) == 0 {
		n.Types = inferTypes(n)
	}
	if err := n.checkGeneratable(ptr); err != nil {
		return nil, err
	}
	return n, nil
}

// checkGeneratable rejects nodes the validator accepts values for but the
// generator cannot produce one for.
func (n *Node) checkGeneratable(ptr string) error {
	if n.HasConst || len(n.Enum) > 0 {
		return nil
	}
	for _, typ := range n.Types {
		switch typ {
		case TypeInteger:
			if _, _, _, ok := n.integerSteps(); !ok {
				lo, hi := n.bounds()
				return fmt.Errorf("%s: no 64-bit integer in range [%v, %v]", ptr, lo, hi)
			}
		case TypeNumber:
			lo, hi := n.bounds()
			if math.IsInf(hi-lo, 0) {
				return fmt.Errorf("%s: numeric range [%v, %v] is too wide", ptr, lo, hi)
			}
			if n.MultipleOf != nil {
				if kLo, kHi := n.multipleSteps(); kLo > kHi {
					return fmt.Errorf("%s: no multiple of %v in range [%v, %v]", ptr, *n.MultipleOf, lo, hi)
				}
			}
		case TypeString:
			if _, asserted := formatGenerators[n.Format]; asserted && n.patternTree != nil {
				return fmt.Errorf("%s: pattern cannot be combined with format %q", ptr, n.Format)
			}
		}
	}
	return nil
}

func parseTypes(v interface{}, ptr string) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if !knownTypes[t] {
			return nil, fmt.Errorf("%s/type: unknown type %q", ptr, t)
		}
		return []string{t}, nil
	case []interface{}:
		if len(t) == 0 {
			return nil, fmt.Errorf("%s/type: must not be empty", ptr)
		}
		types := make([]string, 0, len(t))
		for _, item := range t {
			name, ok := item.(string)
			if !ok || !knownTypes[name] {
				return nil, fmt.Errorf("%s/type: unknown type %v", ptr, item)
			}
			types = append(types, name)
		}
		return types, nil
	default:
		return nil, fmt.Errorf("%s/type: must be a string or array of strings", ptr)
	}
}

// inferTypes picks a type for nodes without an explicit "type".
func inferTypes(n *Node) []string {
	switch {
	case n.Properties != nil || len(n.Required) > 0:
		return []string{TypeObject}
	case n.Items != nil || n.MinItems != nil || n.MaxItems != nil:
		return []string{TypeArray}
	case n.Minimum != nil || n.Maximum != nil || n.MultipleOf != nil:
		return []string{TypeNumber}
	default:
		return []string{TypeString}
	}
}

func parseObjectKeywords(n *Node, s map[string]interface{}, ptr string) error {
	if p, ok := s["properties"]; ok {
		props, isMap := p.(map[string]interface{})
		if !isMap {
			return fmt.Errorf("%s/properties: must be an object", ptr)
		}
		n.Properties = make(map[string]*Node, len(props))
		for name, sub := range props {
			child, err := parseNode(sub, ptr+"/properties/"+escapePointer(name))
			if err != nil {
				return err
			}
			n.Properties[name] = child
			n.PropertyNames = append(n.PropertyNames, name)
		}
		sort.Strings(n.PropertyNames)
	}

	n.required = make(map[string]bool)
	if r, ok := s["required"]; ok {
		list, isArr := r.([]interface{})
		if !isArr {
			return fmt.Errorf("%s/required: must be an array", ptr)
		}
		for _, item := range list {
			name, isStr := item.(string)
			if !isStr {
				return fmt.Errorf("%s/required: entries must be strings", ptr)
			}
			if !n.required[name] {
				n.required[name] = true
				n.Required = append(n.Required, name)
			}
		}
	}
	return nil
}

func parseArrayKeywords(n *Node, s map[string]interface{}, ptr string) error {
	if it, ok := s["items"]; ok {
		if _, isTuple := it.([]interface{}); isTuple {
			return fmt.Errorf("%s/items: tuple form is not supported", ptr)
		}
		child, err := parseNode(it, ptr+"/items")
		if err != nil {
			return err
		}
		n.Items = child
	}

	var err error
	if n.MinItems, err = nonNegativeInt(s, "minItems", ptr); err != nil {
		return err
	}
	if n.MaxItems, err = nonNegativeInt(s, "maxItems", ptr); err != nil {
		return err
	}
	if n.MinItems != nil && n.MaxItems != nil && *n.MinItems > *n.MaxItems {
		return fmt.Errorf("%s: minItems %d exceeds maxItems %d", ptr, *n.MinItems, *n.MaxItems)
	}
	if u, ok := s["uniqueItems"].(bool); ok {
		n.UniqueItems = u
	}
	return nil
}

func parseNumberKeywords(n *Node, s map[string]interface{}, ptr string) error {
	var err error
	if n.Minimum, err = number(s, "minimum", ptr); err != nil {
		return err
	}
	if n.Maximum, err = number(s, "maximum", ptr); err != nil {
		return err
	}

	// Draft-04 boolean form modifies minimum/maximum; draft-06+ numeric form replaces them.
	for _, kw := range []string{"exclusiveMinimum", "exclusiveMaximum"} {
		raw, ok := s[kw]
		if !ok {
			continue
		}
		isMin := kw == "exclusiveMinimum"
		switch v := raw.(type) {
		case bool:
			if isMin {
				n.ExclusiveMinimum = v && n.Minimum != nil
			} else {
				n.ExclusiveMaximum = v && n.Maximum != nil
			}
		default:
			f, isNum := toFloat(v)
			if !isNum {
				return fmt.Errorf("%s/%s: must be a number", ptr, kw)
			}
			if isMin {
				if n.Minimum == nil || f >= *n.Minimum {
					n.Minimum = &f
					n.ExclusiveMinimum = true
				}
			} else {
				if n.Maximum == nil || f <= *n.Maximum {
					n.Maximum = &f
					n.ExclusiveMaximum = true
				}
			}
		}
	}

	if n.MultipleOf, err = number(s, "multipleOf", ptr); err != nil {
		return err
	}
	if n.MultipleOf != nil && *n.MultipleOf <= 0 {
		return fmt.Errorf("%s/multipleOf: must be greater than 0", ptr)
	}

	if n.Minimum != nil && n.Maximum != nil {
		lo, hi := *n.Minimum, *n.Maximum
		if lo > hi || (lo == hi && (n.ExclusiveMinimum || n.ExclusiveMaximum)) {
			return fmt.Errorf("%s: numeric range [%v, %v] is empty", ptr, lo, hi)
		}
	}
	return nil
}

func parseStringKeywords(n *Node, s map[string]interface{}, ptr string) error {
	var err error
	if n.MinLength, err = nonNegativeInt(s, "minLength", ptr); err != nil {
		return err
	}
	if n.MaxLength, err = nonNegativeInt(s, "maxLength", ptr); err != nil {
		return err
	}
	if n.MinLength != nil && n.MaxLength != nil && *n.MinLength > *n.MaxLength {
		return fmt.Errorf("%s: minLength %d exceeds maxLength %d", ptr, *n.MinLength, *n.MaxLength)
	}

	if p, ok := s["pattern"]; ok {
		pattern, isStr := p.(string)
		if !isStr {
			return fmt.Errorf("%s/pattern: must be a string", ptr)
		}
		re, reErr := regexp.Compile(pattern)
		if reErr != nil {
			return fmt.Errorf("%s/pattern: %v", ptr, reErr)
		}
		tree, treeErr := syntax.Parse(pattern, syntax.Perl)
		if treeErr != nil {
			return fmt.Errorf("%s/pattern: %v", ptr, treeErr)
		}
		n.Pattern = pattern
		n.patternRE = re
		n.patternTree = tree.Simplify()
	}

	if f, ok := s["format"]; ok {
		format, isStr := f.(string)
		if !isStr {
			return fmt.Errorf("%s/format: must be a string", ptr)
		}
		n.Format = format
	}
	return nil
}

func number(s map[string]interface{}, key, ptr string) (*float64, error) {
	raw, ok := s[key]
	if !ok {
		return nil, nil
	}
	f, isNum := toFloat(raw)
	if !isNum || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%s/%s: must be a number", ptr, key)
	}
	return &f, nil
}

func nonNegativeInt(s map[string]interface{}, key, ptr string) (*int, error) {
	raw, ok := s[key]
	if !ok {
		return nil, nil
	}
	f, isNum := toFloat(raw)
	if !isNum || f < 0 || f != math.Trunc(f) {
		return nil, fmt.Errorf("%s/%s: must be a non-negative integer", ptr, key)
	}
	i := int(f)
	return &i, nil
}

// toFloat converts a decoded JSON number to float64.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func escapePointer(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}
