package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseConfig reads, parses and schema-validates a configuration file.
// The format is taken from the extension (.json, .yaml, .yml) and sniffed
// from the content otherwise.
func ParseConfig(filepath string) *Result {
	result := &Result{FilePath: filepath}

	content, err := os.ReadFile(filepath)
	if err != nil {
		result.ParseErrors = append(result.ParseErrors, ParseError{
			Path:    filepath,
			Message: fmt.Sprintf("failed to read file: %v", err),
			Type:    ErrorTypeIO,
		})
		return result
	}

	parsed := ParseString(string(content), DetectFormat(filepath))
	parsed.FilePath = filepath
	for i := range parsed.Errors {
		if parsed.Errors[i].Path == "" {
			parsed.Errors[i].Path = filepath
		}
	}

	result.Data = parsed.Data
	result.ParseErrors = parsed.Errors
	result.Format = parsed.Format
	if !parsed.IsValid() {
		return result
	}

	result.ValidationErrors = ValidateConfig(parsed.Data).Errors
	return result
}

// ParseString parses configuration content. An empty format auto-detects.
func ParseString(content, format string) *ParseResult {
	if format == "" {
		switch {
		case IsJSON(content):
			format = "json"
		case IsYAML(content):
			format = "yaml"
		default:
			return &ParseResult{Errors: []ParseError{{
				Message: "unable to detect configuration format: not valid JSON or YAML",
				Type:    ErrorTypeFormat,
			}}}
		}
	}

	switch format {
	case "json":
		return parseJSON(content)
	case "yaml":
		return parseYAML(content)
	default:
		return &ParseResult{Format: format, Errors: []ParseError{{
			Message: fmt.Sprintf("unsupported format: %s", format),
			Type:    ErrorTypeFormat,
		}}}
	}
}

// DetectFormat returns "json", "yaml", or "" from the file extension.
func DetectFormat(filepath string) string {
	switch strings.ToLower(path.Ext(filepath)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

// IsJSON reports whether content looks like a JSON object or array.
func IsJSON(content string) bool {
	content = strings.TrimSpace(content)
	return strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[")
}

// IsYAML reports whether content parses as a non-null YAML document.
// JSON is also YAML, so this is true for JSON content too.
func IsYAML(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	var data interface{}
	err := yaml.Unmarshal([]byte(content), &data)
	return err == nil && data != nil
}

func parseJSON(content string) *ParseResult {
	result := &ParseResult{Format: "json"}

	if strings.TrimSpace(content) == "" {
		result.Errors = append(result.Errors, ParseError{
			Message: "empty content: expected JSON object",
			Type:    ErrorTypeSyntax,
		})
		return result
	}

	// UseNumber keeps large random_seed values exact.
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.UseNumber()
	var data interface{}
	if err := dec.Decode(&data); err != nil {
		result.Errors = append(result.Errors, jsonParseError(err, content))
		return result
	}
	if _, err := dec.Token(); err != io.EOF {
		result.Errors = append(result.Errors, ParseError{
			Message: "JSON syntax error: unexpected content after top-level value",
			Type:    ErrorTypeSyntax,
		})
		return result
	}

	return withMapping(result, data, "JSON object")
}

func parseYAML(content string) *ParseResult {
	result := &ParseResult{Format: "yaml"}

	if strings.TrimSpace(content) == "" {
		result.Errors = append(result.Errors, ParseError{
			Message: "empty content: expected YAML document",
			Type:    ErrorTypeSyntax,
		})
		return result
	}

	var data interface{}
	if err := yaml.Unmarshal([]byte(content), &data); err != nil {
		result.Errors = append(result.Errors, yamlParseError(err))
		return result
	}

	return withMapping(result, data, "YAML mapping")
}

// withMapping stores data in result when it is a top-level mapping.
// A null document yields an empty configuration.
func withMapping(result *ParseResult, data interface{}, want string) *ParseResult {
	if data == nil {
		result.Data = map[string]interface{}{}
		return result
	}
	m, ok := data.(map[string]interface{})
	if !ok {
		result.Errors = append(result.Errors, ParseError{
			Message: fmt.Sprintf("invalid configuration: expected %s, got %T", want, data),
			Type:    ErrorTypeFormat,
		})
		return result
	}
	result.Data = m
	return result
}

func jsonParseError(err error, content string) ParseError {
	parseErr := ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		parseErr.Offset = syntaxErr.Offset
		parseErr.Line, parseErr.Column = offsetToLineColumn(content, syntaxErr.Offset)
		parseErr.Message = fmt.Sprintf("JSON syntax error at offset %d: %s", syntaxErr.Offset, syntaxErr.Error())
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		parseErr.Message = "JSON syntax error: unexpected end of input"
	}
	return parseErr
}

func yamlParseError(err error) ParseError {
	parseErr := ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		parseErr.Message = fmt.Sprintf("YAML type error: %s", strings.Join(typeErr.Errors, "; "))
	}

	// yaml.v3 reports positions as "yaml: line N: ..."
	var line int
	if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr == nil {
		parseErr.Line = line
	}
	return parseErr
}

// offsetToLineColumn converts a byte offset to 1-based line and column.
func offsetToLineColumn(content string, offset int64) (line, column int) {
	line, column = 1, 1
	for i := int64(0); i < offset && i < int64(len(content)); i++ {
		if content[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}
