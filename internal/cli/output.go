package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/scheduler"
	"github.com/PlainsightAI/filter-stub-application/pkg/frame"
)

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
}

// PrintConfigSummary displays the resolved configuration.
func PrintConfigSummary(w io.Writer, cfg config.Config, opts OutputOptions) {
	if opts.Quiet {
		return
	}

	fmt.Fprintf(w, "  Filter: %s\n", cfg.ID)
	fmt.Fprintf(w, "  Mode: %s\n", cfg.OutputMode)
	switch cfg.OutputMode {
	case config.ModeEcho:
		fmt.Fprintf(w, "  Events: %s", cfg.InputJSONEventsFilePath)
		if cfg.LoopEvents {
			fmt.Fprint(w, " (loop)")
		}
		fmt.Fprintln(w)
	case config.ModeRandom:
		fmt.Fprintf(w, "  Template: %s\n", cfg.InputJSONTemplateFilePath)
	}
	fmt.Fprintf(w, "  Output: %s\n", cfg.OutputJSONPath)

	if !opts.Verbose {
		return
	}

	fmt.Fprintf(w, "  Forward upstream data: %t (order: %s)\n", cfg.ForwardUpstreamData, cfg.ForwardOrder)
	if cfg.PublishEvent {
		fmt.Fprintf(w, "  Event topic: %s\n", cfg.EventTopic)
	}
	if cfg.OutputMode == config.ModeEcho {
		fmt.Fprintf(w, "  Malformed lines: %s\n", cfg.MalformedLinePolicy)
	}
	if cfg.OutputMode == config.ModeRandom {
		if cfg.RandomSeed != 0 {
			fmt.Fprintf(w, "  Seed: %d\n", cfg.RandomSeed)
		}
		fmt.Fprintf(w, "  Optional probability: %g\n", cfg.OptionalProbability)
	}
	if cfg.EventCondition != "" {
		fmt.Fprintf(w, "  Condition: %s\n", cfg.EventCondition)
	}
	switch {
	case cfg.EventScriptFile != "":
		fmt.Fprintf(w, "  Script: %s\n", cfg.EventScriptFile)
	case cfg.EventScript != "":
		fmt.Fprintln(w, "  Script: inline")
	}
	if cfg.KafkaEnabled() {
		fmt.Fprintf(w, "  Kafka: %s -> %s\n", strings.Join(cfg.OutputKafkaBrokers, ","), cfg.OutputKafkaTopic)
	}
	if cfg.StateDir != "" {
		fmt.Fprintf(w, "  State: %s\n", cfg.StateDir)
	}
}

// PrintRunSummary displays what a run did.
func PrintRunSummary(w io.Writer, sum scheduler.Summary, elapsed time.Duration, opts OutputOptions) {
	if opts.Quiet {
		return
	}

	fmt.Fprintln(w, "✓ Run finished")
	fmt.Fprintf(w, "  Cycles: %d\n", sum.Cycles)
	fmt.Fprintf(w, "  Events emitted: %d\n", sum.Emitted)
	if sum.Skipped > 0 {
		fmt.Fprintf(w, "  Cycles skipped: %d\n", sum.Skipped)
	}
	if opts.Verbose {
		fmt.Fprintf(w, "  Duration: %v\n", elapsed.Round(time.Millisecond))
	}
}

// PrintCycle displays one cycle result on a single line.
func PrintCycle(w io.Writer, res *frame.Result) {
	if res == nil {
		return
	}
	status := "emitted"
	if !res.Emitted {
		status = "skipped (" + res.SkipReason + ")"
	}
	fmt.Fprintf(w, "  cycle %d: %s, %d frame(s) out [%s]\n",
		res.Cycle, status, len(res.Frames), strings.Join(res.Topics(), " "))
}
