package registry

import (
	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/metrics"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/filter"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/input"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/output"
	"github.com/PlainsightAI/filter-stub-application/internal/schema"
)

func init() {
	RegisterBuiltins()
}

func registerBuiltinInputModules() {
	// echo replays the events file
	RegisterInput(string(config.ModeEcho), func(cfg *config.Config) (input.Module, error) {
		src, err := input.NewEchoSource(cfg.InputJSONEventsFilePath, cfg.MalformedLinePolicy, cfg.LoopEvents)
		if err != nil {
			return nil, err
		}
		return src, nil
	})

	// random generates events from the template
	RegisterInput(string(config.ModeRandom), func(cfg *config.Config) (input.Module, error) {
		src, err := input.NewRandomSource(cfg.InputJSONTemplateFilePath, GeneratorOptions(cfg))
		if err != nil {
			return nil, err
		}
		return src, nil
	})
}

// GeneratorOptions maps the configuration onto generator options.
func GeneratorOptions(cfg *config.Config) schema.GeneratorOptions {
	return schema.GeneratorOptions{
		Seed:                cfg.RandomSeed,
		OptionalProbability: cfg.OptionalProbability,
	}
}

func registerBuiltinFilterModules() {
	// condition drops events for which event_condition is false
	RegisterFilter("condition", func(cfg *config.Config) (filter.Module, error) {
		if cfg.EventCondition == "" {
			return nil, nil
		}
		m, err := filter.NewCondition(cfg.EventCondition)
		if err != nil {
			return nil, errhandling.NewConfigError(config.KeyEventCondition, err.Error(), err)
		}
		return m, nil
	})

	// script rewrites events with event_script or event_script_file
	RegisterFilter("script", func(cfg *config.Config) (filter.Module, error) {
		if cfg.EventScript == "" && cfg.EventScriptFile == "" {
			return nil, nil
		}
		key := config.KeyEventScript
		if cfg.EventScriptFile != "" {
			key = config.KeyEventScriptFile
		}
		m, err := filter.NewScript(filter.ScriptConfig{
			Source:   cfg.EventScript,
			File:     cfg.EventScriptFile,
			FilterID: cfg.ID,
		})
		if err != nil {
			return nil, errhandling.NewConfigError(key, err.Error(), err)
		}
		return m, nil
	})

	// set stamps event_set_fields onto every event
	RegisterFilter("set", func(cfg *config.Config) (filter.Module, error) {
		if len(cfg.EventSetFields) == 0 {
			return nil, nil
		}
		m, err := filter.NewSet(cfg.EventSetFields)
		if err != nil {
			return nil, errhandling.NewConfigError(config.KeyEventSetFields, err.Error(), err)
		}
		return m, nil
	})

	// remove deletes event_remove_fields from every event
	RegisterFilter("remove", func(cfg *config.Config) (filter.Module, error) {
		if len(cfg.EventRemoveFields) == 0 {
			return nil, nil
		}
		m, err := filter.NewRemove(cfg.EventRemoveFields)
		if err != nil {
			return nil, errhandling.NewConfigError(config.KeyEventRemoveFields, err.Error(), err)
		}
		return m, nil
	})
}

func registerBuiltinOutputModules() {
	// file appends events to output_json_path
	RegisterOutput("file", func(cfg *config.Config, _ *metrics.Metrics) (output.Module, error) {
		e, err := output.OpenFileEmitter(cfg.OutputJSONPath, output.FileOptions{Truncate: cfg.TruncateOutput})
		if err != nil {
			return nil, err
		}
		return e, nil
	})

	// kafka mirrors events to output_kafka_topic
	RegisterOutput("kafka", func(cfg *config.Config, m *metrics.Metrics) (output.Module, error) {
		if !cfg.KafkaEnabled() {
			return nil, nil
		}
		mirror, err := output.NewKafkaMirror(output.KafkaConfig{
			Brokers:  cfg.OutputKafkaBrokers,
			Topic:    cfg.OutputKafkaTopic,
			FilterID: cfg.ID,
		}, m)
		if err != nil {
			return nil, errhandling.NewConfigError(config.KeyOutputKafkaBrokers, err.Error(), err)
		}
		return mirror, nil
	})
}
