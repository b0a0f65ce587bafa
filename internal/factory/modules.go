// Package factory builds the modules selected by a configuration, using
// the constructors held by the registry.
package factory

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/logger"
	"github.com/PlainsightAI/filter-stub-application/internal/metrics"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/filter"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/input"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/output"
	"github.com/PlainsightAI/filter-stub-application/internal/registry"
)

// CreateInputModule creates the source for the configured mode.
// A mode with no registered source is a config error.
func CreateInputModule(cfg *config.Config) (input.Module, error) {
	if cfg == nil {
		return nil, errhandling.NewConfigError("", "missing configuration", nil)
	}

	constructor := registry.GetInputConstructor(string(cfg.OutputMode))
	if constructor == nil {
		return nil, errhandling.NewConfigError(config.KeyOutputMode,
			fmt.Sprintf("Invalid mode %q: no source registered", cfg.OutputMode), nil)
	}
	return constructor(cfg)
}

// CreateFilterModules creates every configured transform, in registry order.
func CreateFilterModules(cfg *config.Config) (filter.Chain, error) {
	var chain filter.Chain
	for _, name := range registry.ListFilterTypes() {
		constructor := registry.GetFilterConstructor(name)
		if constructor == nil {
			continue
		}
		module, err := constructor(cfg)
		if err != nil {
			return nil, fmt.Errorf("create %s transform: %w", name, err)
		}
		if module == nil {
			continue
		}
		logger.Debug("transform enabled", slog.String("transform", name))
		chain = append(chain, module)
	}
	return chain, nil
}

// CreateOutputModules creates every configured sink, in registry order.
// On failure, sinks already opened are closed.
func CreateOutputModules(cfg *config.Config, m *metrics.Metrics) ([]output.Module, error) {
	var sinks []output.Module
	for _, name := range registry.ListOutputTypes() {
		constructor := registry.GetOutputConstructor(name)
		if constructor == nil {
			continue
		}
		module, err := constructor(cfg, m)
		if err != nil {
			_ = CloseOutputs(sinks)
			return nil, fmt.Errorf("create %s output: %w", name, err)
		}
		if module == nil {
			continue
		}
		logger.Debug("output enabled", slog.String("output", name))
		sinks = append(sinks, module)
	}
	if len(sinks) == 0 {
		return nil, errhandling.NewConfigError(config.KeyOutputJSONPath, "no output configured", nil)
	}
	return sinks, nil
}

// CloseOutputs closes every sink and joins their errors.
func CloseOutputs(sinks []output.Module) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
