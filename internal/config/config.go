// Package config resolves the filter configuration.
//
// Values are layered as defaults < config file (JSON or YAML) < FILTER_*
// environment variables < explicit overrides. The merged raw map is
// validated against an embedded JSON Schema and then normalized into an
// immutable Config.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/pathutil"
)

// EnvPrefix is the prefix of environment variables mapped onto config keys.
const EnvPrefix = "FILTER_"

// OutputMode selects where events come from.
type OutputMode string

// Output modes.
const (
	ModeEcho   OutputMode = "echo"
	ModeRandom OutputMode = "random"
)

// MalformedPolicy decides what the echo reader does with an unparseable line.
type MalformedPolicy string

// Malformed line policies.
const (
	PolicySkip MalformedPolicy = "skip"
	PolicyFail MalformedPolicy = "fail"
)

// ForwardOrder places the event frame relative to forwarded upstream frames.
type ForwardOrder string

// Forward orders.
const (
	// OrderAfter puts forwarded frames after the event frame.
	OrderAfter ForwardOrder = "after"
	// OrderBefore puts forwarded frames before the event frame.
	OrderBefore ForwardOrder = "before"
)

// Configuration keys.
const (
	KeyID                        = "id"
	KeyOutputMode                = "output_mode"
	KeyDebug                     = "debug"
	KeyForwardUpstreamData       = "forward_upstream_data"
	KeyOutputJSONPath            = "output_json_path"
	KeyInputJSONEventsFilePath   = "input_json_events_file_path"
	KeyInputJSONTemplateFilePath = "input_json_template_file_path"
	KeyLoopEvents                = "loop_events"
	KeyMalformedLinePolicy       = "malformed_line_policy"
	KeyTruncateOutput            = "truncate_output"
	KeyForwardOrder              = "forward_order"
	KeyPublishEvent              = "publish_event"
	KeyEventTopic                = "event_topic"
	KeyRandomSeed                = "random_seed"
	KeyOptionalProbability       = "optional_probability"
	KeyEventCondition            = "event_condition"
	KeyEventScript               = "event_script"
	KeyEventScriptFile           = "event_script_file"
	KeyOutputKafkaBrokers        = "output_kafka_brokers"
	KeyOutputKafkaTopic          = "output_kafka_topic"
	KeyEventSetFields            = "event_set_fields"
	KeyEventRemoveFields         = "event_remove_fields"
	KeyStateDir                  = "state_dir"
)

// Keys lists every configuration key that can be set from the environment.
var Keys = []string{
	KeyOutputMode, KeyDebug, KeyForwardUpstreamData, KeyOutputJSONPath,
	KeyInputJSONEventsFilePath, KeyInputJSONTemplateFilePath, KeyLoopEvents,
	KeyMalformedLinePolicy, KeyTruncateOutput, KeyForwardOrder, KeyPublishEvent,
	KeyEventTopic, KeyRandomSeed, KeyOptionalProbability, KeyEventCondition,
	KeyEventScript, KeyEventScriptFile, KeyOutputKafkaBrokers, KeyOutputKafkaTopic,
	KeyEventSetFields, KeyEventRemoveFields, KeyStateDir,
}

// Config is the resolved filter configuration.
type Config struct {
	// ID labels log lines and metrics. It has no effect on behaviour.
	ID string

	OutputMode          OutputMode
	Debug               bool
	ForwardUpstreamData bool

	OutputJSONPath            string
	InputJSONEventsFilePath   string
	InputJSONTemplateFilePath string

	LoopEvents          bool
	MalformedLinePolicy MalformedPolicy
	TruncateOutput      bool

	ForwardOrder ForwardOrder
	PublishEvent bool
	EventTopic   string

	RandomSeed          int64
	OptionalProbability float64

	EventCondition  string
	EventScript     string
	EventScriptFile string

	// EventSetFields maps dotted field paths to values stamped on every event.
	EventSetFields map[string]interface{}
	// EventRemoveFields lists dotted field paths deleted from every event.
	EventRemoveFields []string

	OutputKafkaBrokers []string
	OutputKafkaTopic   string

	// StateDir, when set, holds the replay checkpoint used to resume echo mode.
	StateDir string
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		ID:                        "filter_stub_application",
		OutputMode:                ModeEcho,
		Debug:                     false,
		ForwardUpstreamData:       true,
		OutputJSONPath:            "./output/output.json",
		InputJSONEventsFilePath:   "./input/events.json",
		InputJSONTemplateFilePath: "./input/events_template.json",
		LoopEvents:                false,
		MalformedLinePolicy:       PolicySkip,
		TruncateOutput:            false,
		ForwardOrder:              OrderAfter,
		PublishEvent:              false,
		EventTopic:                "events",
		RandomSeed:                0,
		OptionalProbability:       0.5,
	}
}

// KafkaEnabled reports whether events are mirrored to Kafka.
func (c Config) KafkaEnabled() bool {
	return len(c.OutputKafkaBrokers) > 0 && c.OutputKafkaTopic != ""
}

// LoadOptions selects the layers Resolve merges.
type LoadOptions struct {
	// File is an optional JSON or YAML config file.
	File string
	// Environ is the environment in KEY=VALUE form; nil means os.Environ().
	Environ []string
	// IgnoreEnv disables the environment layer.
	IgnoreEnv bool
	// Overrides win over every other layer (CLI flags, tests).
	Overrides map[string]interface{}
}

// Resolve merges all configuration layers and normalizes the result.
// Every failure is a config error naming the offending key.
func Resolve(opts LoadOptions) (Config, error) {
	merged := make(map[string]interface{})

	if opts.File != "" {
		result := ParseConfig(opts.File)
		if len(result.ParseErrors) > 0 {
			return Config{}, errhandling.NewConfigError("", "cannot parse config file", result.ParseErrors[0])
		}
		mergeInto(merged, result.Data)
	}

	if !opts.IgnoreEnv {
		environ := opts.Environ
		if environ == nil {
			environ = os.Environ()
		}
		mergeInto(merged, EnvValues(environ))
	}

	mergeInto(merged, opts.Overrides)

	return FromMap(merged)
}

// EnvValues extracts FILTER_* variables as raw string values keyed by config key.
func EnvValues(environ []string) map[string]interface{} {
	known := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		known[k] = true
	}

	out := make(map[string]interface{})
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		if known[key] {
			out[key] = value
		}
	}
	return out
}

func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		dst[k] = v
	}
}

// FromMap validates a raw configuration map and normalizes it over the defaults.
// Unknown keys are ignored. A null path keeps the default.
func FromMap(raw map[string]interface{}) (Config, error) {
	if raw == nil {
		raw = map[string]interface{}{}
	}

	if v := ValidateConfig(raw); !v.Valid {
		first := v.Errors[0]
		key := first.Key()
		return Config{}, errhandling.NewConfigError(key, invalidMessage(key, raw[key]), first)
	}

	cfg := Defaults()
	var err error

	if s, ok := raw[KeyID].(string); ok && s != "" {
		cfg.ID = s
	}
	if v, ok := raw[KeyOutputMode]; ok {
		if cfg.OutputMode, err = ParseOutputMode(v.(string)); err != nil {
			return Config{}, err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{KeyDebug, &cfg.Debug},
		{KeyForwardUpstreamData, &cfg.ForwardUpstreamData},
		{KeyLoopEvents, &cfg.LoopEvents},
		{KeyTruncateOutput, &cfg.TruncateOutput},
		{KeyPublishEvent, &cfg.PublishEvent},
	}
	for _, b := range bools {
		v, ok := raw[b.key]
		if !ok {
			continue
		}
		if *b.dst, err = ParseBool(b.key, v); err != nil {
			return Config{}, err
		}
	}

	paths := []struct {
		key string
		dst *string
	}{
		{KeyOutputJSONPath, &cfg.OutputJSONPath},
		{KeyInputJSONEventsFilePath, &cfg.InputJSONEventsFilePath},
		{KeyInputJSONTemplateFilePath, &cfg.InputJSONTemplateFilePath},
		{KeyEventScriptFile, &cfg.EventScriptFile},
		{KeyStateDir, &cfg.StateDir},
	}
	for _, p := range paths {
		if s, ok := raw[p.key].(string); ok && strings.TrimSpace(s) != "" {
			*p.dst = strings.TrimSpace(s)
		}
	}

	if v, ok := raw[KeyMalformedLinePolicy]; ok {
		cfg.MalformedLinePolicy = MalformedPolicy(normalizeEnum(v.(string)))
	}
	if v, ok := raw[KeyForwardOrder]; ok {
		cfg.ForwardOrder = ForwardOrder(normalizeEnum(v.(string)))
	}
	if v, ok := raw[KeyEventTopic].(string); ok {
		cfg.EventTopic = v
	}
	if v, ok := raw[KeyEventCondition].(string); ok {
		cfg.EventCondition = strings.TrimSpace(v)
	}
	if v, ok := raw[KeyEventScript].(string); ok {
		cfg.EventScript = v
	}
	if v, ok := raw[KeyOutputKafkaTopic].(string); ok {
		cfg.OutputKafkaTopic = strings.TrimSpace(v)
	}

	if v, ok := raw[KeyRandomSeed]; ok {
		if cfg.RandomSeed, err = parseInt64(KeyRandomSeed, v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := raw[KeyOptionalProbability]; ok {
		if cfg.OptionalProbability, err = parseProbability(v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := raw[KeyOutputKafkaBrokers]; ok {
		cfg.OutputKafkaBrokers = parseList(v)
	}
	if v, ok := raw[KeyEventRemoveFields]; ok {
		cfg.EventRemoveFields = parseList(v)
	}
	if v, ok := raw[KeyEventSetFields]; ok {
		if cfg.EventSetFields, err = parseFieldValues(v); err != nil {
			return Config{}, err
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints on a Config built in code.
func (c Config) Validate() error {
	switch c.OutputMode {
	case ModeEcho, ModeRandom:
	default:
		return errhandling.NewConfigError(KeyOutputMode, fmt.Sprintf("Invalid mode %q: expected echo or random", c.OutputMode), nil)
	}
	switch c.MalformedLinePolicy {
	case PolicySkip, PolicyFail:
	default:
		return errhandling.NewConfigError(KeyMalformedLinePolicy, fmt.Sprintf("invalid policy %q: expected skip or fail", c.MalformedLinePolicy), nil)
	}
	switch c.ForwardOrder {
	case OrderAfter, OrderBefore:
	default:
		return errhandling.NewConfigError(KeyForwardOrder, fmt.Sprintf("invalid order %q: expected before or after", c.ForwardOrder), nil)
	}
	if c.OutputJSONPath == "" {
		return errhandling.NewConfigError(KeyOutputJSONPath, "Invalid output JSON path: must not be empty", nil)
	}
	if c.OutputMode == ModeEcho && c.InputJSONEventsFilePath == "" {
		return errhandling.NewConfigError(KeyInputJSONEventsFilePath, "Invalid input JSON events path: must not be empty", nil)
	}
	if c.OutputMode == ModeRandom && c.InputJSONTemplateFilePath == "" {
		return errhandling.NewConfigError(KeyInputJSONTemplateFilePath, "Invalid input JSON template path: must not be empty", nil)
	}
	for _, p := range []struct{ key, path string }{
		{KeyOutputJSONPath, c.OutputJSONPath},
		{KeyInputJSONEventsFilePath, c.InputJSONEventsFilePath},
		{KeyInputJSONTemplateFilePath, c.InputJSONTemplateFilePath},
		{KeyEventScriptFile, c.EventScriptFile},
		{KeyStateDir, c.StateDir},
	} {
		if p.path == "" {
			continue
		}
		if err := pathutil.ValidateFilePath(p.path); err != nil {
			return errhandling.NewConfigError(p.key, fmt.Sprintf("invalid path %q", p.path), err)
		}
	}
	if c.EventTopic == "" {
		return errhandling.NewConfigError(KeyEventTopic, "event topic must not be empty", nil)
	}
	if c.OptionalProbability < 0 || c.OptionalProbability > 1 {
		return errhandling.NewConfigError(KeyOptionalProbability, fmt.Sprintf("probability %v outside [0, 1]", c.OptionalProbability), nil)
	}
	if c.EventScript != "" && c.EventScriptFile != "" {
		return errhandling.NewConfigError(KeyEventScript, "event_script and event_script_file are mutually exclusive", nil)
	}
	if (len(c.OutputKafkaBrokers) > 0) != (c.OutputKafkaTopic != "") {
		return errhandling.NewConfigError(KeyOutputKafkaTopic, "output_kafka_brokers and output_kafka_topic must be set together", nil)
	}
	return nil
}

// ParseOutputMode parses a mode name, ignoring case and surrounding space.
func ParseOutputMode(s string) (OutputMode, error) {
	switch m := OutputMode(normalizeEnum(s)); m {
	case ModeEcho, ModeRandom:
		return m, nil
	default:
		return "", errhandling.NewConfigError(KeyOutputMode, fmt.Sprintf("Invalid mode %q: expected echo or random", s), nil)
	}
}

// ParseBool accepts native booleans and the strings true/1/yes and false/0/no
// in any case. Anything else, including null, is a config error for key.
func ParseBool(key string, v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
	}
	return false, errhandling.NewConfigError(key, invalidMessage(key, v), nil)
}

func parseInt64(key string, v interface{}) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n == math.Trunc(n) {
			return int64(n), nil
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, nil
		}
	}
	return 0, errhandling.NewConfigError(key, invalidMessage(key, v), nil)
}

func parseProbability(v interface{}) (float64, error) {
	var f float64
	var err error
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return 0, errhandling.NewConfigError(KeyOptionalProbability, invalidMessage(KeyOptionalProbability, v), err)
	}
	return f, nil
}

// parseList accepts a comma-separated string or a list of strings.
func parseList(v interface{}) []string {
	var parts []string
	switch b := v.(type) {
	case string:
		parts = strings.Split(b, ",")
	case []interface{}:
		for _, item := range b {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseFieldValues accepts an object or, from the environment, its JSON text.
func parseFieldValues(v interface{}) (map[string]interface{}, error) {
	switch f := v.(type) {
	case map[string]interface{}:
		if len(f) == 0 {
			return nil, nil
		}
		return f, nil
	case string:
		if strings.TrimSpace(f) == "" {
			return nil, nil
		}
		dec := json.NewDecoder(strings.NewReader(f))
		dec.UseNumber()
		var out map[string]interface{}
		if err := dec.Decode(&out); err != nil {
			return nil, errhandling.NewConfigError(KeyEventSetFields, "event_set_fields must be a JSON object", err)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	}
	return nil, errhandling.NewConfigError(KeyEventSetFields, invalidMessage(KeyEventSetFields, v), nil)
}

func normalizeEnum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// invalidMessage renders the user-facing message for a rejected value.
// Path keys use the wording "Invalid input JSON events path" and friends.
func invalidMessage(key string, v interface{}) string {
	var what string
	switch key {
	case KeyOutputMode:
		return fmt.Sprintf("Invalid mode %v: expected echo or random", describe(v))
	case KeyOutputJSONPath:
		what = "output JSON path"
	case KeyInputJSONEventsFilePath:
		what = "input JSON events path"
	case KeyInputJSONTemplateFilePath:
		what = "input JSON template path"
	case KeyEventScriptFile:
		what = "event script path"
	case KeyStateDir:
		what = "state directory"
	default:
		what = key
	}
	if key == "" {
		return "invalid configuration"
	}
	return fmt.Sprintf("Invalid %s value %s", what, describe(v))
}

func describe(v interface{}) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v (%T)", v, v)
}
