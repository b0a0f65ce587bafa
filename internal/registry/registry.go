// Package registry maps names to constructors for event sources,
// transforms and sinks.
//
// Sources are keyed by output mode: the configured mode selects exactly one.
// Transforms and sinks are all consulted in registration order; a
// constructor returns a nil module when its options are not configured.
//
// To add a source:
//
//	func init() {
//	    registry.RegisterInput("replay", func(cfg *config.Config) (input.Module, error) {
//	        return newReplaySource(cfg.InputJSONEventsFilePath)
//	    })
//	}
package registry

import (
	"sort"
	"sync"

	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/metrics"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/filter"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/input"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/output"
)

// InputConstructor creates the event source for a mode.
type InputConstructor func(cfg *config.Config) (input.Module, error)

// FilterConstructor creates a transform, or nil when it is not configured.
type FilterConstructor func(cfg *config.Config) (filter.Module, error)

// OutputConstructor creates a sink, or nil when it is not configured.
type OutputConstructor func(cfg *config.Config, m *metrics.Metrics) (output.Module, error)

var (
	inputMu       sync.RWMutex
	inputRegistry = make(map[string]InputConstructor)
)

var (
	filterMu       sync.RWMutex
	filterRegistry = make(map[string]FilterConstructor)
	filterOrder    []string
)

var (
	outputMu       sync.RWMutex
	outputRegistry = make(map[string]OutputConstructor)
	outputOrder    []string
)

// RegisterInput registers the source for a mode, replacing any previous one.
func RegisterInput(mode string, constructor InputConstructor) {
	inputMu.Lock()
	defer inputMu.Unlock()
	inputRegistry[mode] = constructor
}

// RegisterFilter registers a transform. Re-registering a name keeps its
// original position.
func RegisterFilter(name string, constructor FilterConstructor) {
	filterMu.Lock()
	defer filterMu.Unlock()
	if _, ok := filterRegistry[name]; !ok {
		filterOrder = append(filterOrder, name)
	}
	filterRegistry[name] = constructor
}

// RegisterOutput registers a sink. Re-registering a name keeps its
// original position.
func RegisterOutput(name string, constructor OutputConstructor) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if _, ok := outputRegistry[name]; !ok {
		outputOrder = append(outputOrder, name)
	}
	outputRegistry[name] = constructor
}

// GetInputConstructor returns the source constructor for mode, or nil.
func GetInputConstructor(mode string) InputConstructor {
	inputMu.RLock()
	defer inputMu.RUnlock()
	return inputRegistry[mode]
}

// GetFilterConstructor returns the transform constructor for name, or nil.
func GetFilterConstructor(name string) FilterConstructor {
	filterMu.RLock()
	defer filterMu.RUnlock()
	return filterRegistry[name]
}

// GetOutputConstructor returns the sink constructor for name, or nil.
func GetOutputConstructor(name string) OutputConstructor {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return outputRegistry[name]
}

// ListInputTypes returns the registered modes, sorted.
func ListInputTypes() []string {
	inputMu.RLock()
	defer inputMu.RUnlock()
	types := make([]string, 0, len(inputRegistry))
	for t := range inputRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ListFilterTypes returns transform names in registration order.
func ListFilterTypes() []string {
	filterMu.RLock()
	defer filterMu.RUnlock()
	return append([]string(nil), filterOrder...)
}

// ListOutputTypes returns sink names in registration order.
func ListOutputTypes() []string {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return append([]string(nil), outputOrder...)
}

// ClearRegistries removes all registered constructors. For tests.
func ClearRegistries() {
	inputMu.Lock()
	inputRegistry = make(map[string]InputConstructor)
	inputMu.Unlock()

	filterMu.Lock()
	filterRegistry = make(map[string]FilterConstructor)
	filterOrder = nil
	filterMu.Unlock()

	outputMu.Lock()
	outputRegistry = make(map[string]OutputConstructor)
	outputOrder = nil
	outputMu.Unlock()
}

// RegisterBuiltins registers the built-in modules. It runs at init and
// can be called again after ClearRegistries.
func RegisterBuiltins() {
	registerBuiltinInputModules()
	registerBuiltinFilterModules()
	registerBuiltinOutputModules()
}
