// Package main provides the CLI entry point for the filter stub application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/PlainsightAI/filter-stub-application/internal/cli"
	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/factory"
	"github.com/PlainsightAI/filter-stub-application/internal/logger"
	"github.com/PlainsightAI/filter-stub-application/internal/metrics"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/output"
	"github.com/PlainsightAI/filter-stub-application/internal/runtime"
	"github.com/PlainsightAI/filter-stub-application/internal/scheduler"
	"github.com/PlainsightAI/filter-stub-application/internal/schema"
	"github.com/PlainsightAI/filter-stub-application/pkg/frame"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

var (
	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// exitError carries the process exit code out of a command.
// A nil err means the failure was already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

type globalOptions struct {
	verbose   bool
	quiet     bool
	logFormat string
	logFile   string
	level     slog.Level
	format    logger.OutputFormat
}

type runOptions struct {
	configPath  string
	mode        string
	outputPath  string
	eventsPath  string
	template    string
	seed        int64
	cycles      int64
	interval    time.Duration
	upstream    string
	metricsAddr string
	stopAtEOS   bool
	stateDir    string
}

type generateOptions struct {
	template    string
	count       int
	seed        int64
	probability float64
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and maps the outcome onto an exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Usage errors: unknown flag, wrong argument count.
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitValidationError
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "filter-stub-application",
		Short: "Filter stub - replay or synthesize JSON events in a pipeline",
		Long: `filter-stub-application is a test double for a video-analytics pipeline stage.

Each cycle it takes one event from a source (replayed from a JSON events
file, or generated from a JSON Schema template), optionally filters or
rewrites it, appends it to an NDJSON output file and forwards the
upstream frames it received.

Examples:
  # Replay events once and stop at the end of the file
  filter-stub-application run --config filter.yaml

  # Generate 10 reproducible events every 500ms
  filter-stub-application run --mode random --seed 42 --cycles 10 --interval 500ms

  # Check a configuration without emitting anything
  filter-stub-application validate --config filter.yaml`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return g.configureLogging()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			logger.CloseLogFile()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable verbose output")
	root.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "Suppress non-error output")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "json", "Log format: json or human")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "Also write JSON logs to this file")

	root.AddCommand(newRunCmd(g, stdout, stderr))
	root.AddCommand(newValidateCmd(g, stdout, stderr))
	root.AddCommand(newGenerateCmd(g, stdout, stderr))
	root.AddCommand(newVersionCmd(stdout))
	return root
}

func (g *globalOptions) configureLogging() error {
	format, err := logger.ParseFormat(g.logFormat)
	if err != nil {
		return &exitError{code: ExitValidationError, err: err}
	}
	g.format = format
	g.level = slog.LevelInfo
	if g.verbose {
		g.level = slog.LevelDebug
	} else if g.quiet {
		g.level = slog.LevelError
	}
	return g.applyLogging()
}

func (g *globalOptions) applyLogging() error {
	if g.logFile == "" {
		logger.SetLevelAndFormat(g.level, g.format)
		return nil
	}
	if err := logger.SetLogFile(g.logFile, g.level, g.format); err != nil {
		return &exitError{code: ExitRuntimeError, err: err}
	}
	return nil
}

// enableDebug raises the log level when the configuration asks for it.
// Explicit --quiet wins.
func (g *globalOptions) enableDebug(cfg config.Config) error {
	if !cfg.Debug || g.quiet || g.level == slog.LevelDebug {
		return nil
	}
	g.level = slog.LevelDebug
	return g.applyLogging()
}

func (g *globalOptions) output() cli.OutputOptions {
	return cli.OutputOptions{Verbose: g.verbose, Quiet: g.quiet}
}

func newRunCmd(g *globalOptions, stdout, stderr io.Writer) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the filter",
		Long: `Run the filter cycle by cycle.

Configuration is layered: defaults, then --config, then FILTER_*
environment variables, then command-line flags.

Exit codes:
  0 - Run finished (cycle limit, end of events, or interrupted)
  1 - Configuration errors
  2 - Parse errors (config file or template)
  3 - Runtime errors`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFilter(cmd, g, o, stdout, stderr)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "Configuration file (JSON or YAML)")
	f.StringVar(&o.mode, "mode", "", "Output mode: echo or random")
	f.StringVarP(&o.outputPath, "output", "o", "", "Output NDJSON file")
	f.StringVar(&o.eventsPath, "events", "", "Events file replayed in echo mode")
	f.StringVar(&o.template, "template", "", "JSON Schema template used in random mode")
	f.Int64Var(&o.seed, "seed", 0, "Random seed (0 means unseeded)")
	f.Int64Var(&o.cycles, "cycles", 0, "Stop after this many cycles (0 means unbounded)")
	f.DurationVar(&o.interval, "interval", 100*time.Millisecond, "Time between cycle starts")
	f.StringVar(&o.upstream, "upstream", "", "NDJSON file of upstream frame batches, one per cycle")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	f.BoolVar(&o.stopAtEOS, "stop-at-eos", true, "Stop when the events file is exhausted")
	f.StringVar(&o.stateDir, "state-dir", "", "Directory for the replay checkpoint (echo mode resumes from it)")
	return cmd
}

func newValidateCmd(g *globalOptions, stdout, stderr io.Writer) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the filter configuration",
		Long: `Resolve the configuration and open the selected input without emitting.

In echo mode the events file must be readable; in random mode the
template must compile. The condition and script are compiled too.

Exit codes:
  0 - Configuration is valid
  1 - Configuration errors
  2 - Parse errors (config file or template)
  3 - Input cannot be opened`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, g, o, stdout, stderr)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "Configuration file (JSON or YAML)")
	f.StringVar(&o.mode, "mode", "", "Output mode: echo or random")
	f.StringVar(&o.eventsPath, "events", "", "Events file replayed in echo mode")
	f.StringVar(&o.template, "template", "", "JSON Schema template used in random mode")
	return cmd
}

func newGenerateCmd(g *globalOptions, stdout, stderr io.Writer) *cobra.Command {
	o := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print random events generated from a template",
		Long: `Generate events from a JSON Schema template and print them as NDJSON.

Examples:
  filter-stub-application generate --template input/events_template.json --count 5 --seed 1`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runGenerate(g, o, stdout, stderr)
		},
	}

	defaults := config.Defaults()
	f := cmd.Flags()
	f.StringVarP(&o.template, "template", "t", defaults.InputJSONTemplateFilePath, "JSON Schema template")
	f.IntVarP(&o.count, "count", "n", 1, "Number of events to print")
	f.Int64Var(&o.seed, "seed", 0, "Random seed (0 means unseeded)")
	f.Float64Var(&o.probability, "optional-probability", defaults.OptionalProbability, "Chance an optional property is generated")
	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(stdout, "Version: %s\n", version)
			fmt.Fprintf(stdout, "Commit: %s\n", commit)
			fmt.Fprintf(stdout, "Build Date: %s\n", buildDate)
		},
	}
}

// overrides collects the flags the user set explicitly.
func (o *runOptions) overrides(cmd *cobra.Command) map[string]interface{} {
	out := make(map[string]interface{})
	set := func(flag, key string, v interface{}) {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			out[key] = v
		}
	}
	set("mode", config.KeyOutputMode, o.mode)
	set("output", config.KeyOutputJSONPath, o.outputPath)
	set("events", config.KeyInputJSONEventsFilePath, o.eventsPath)
	set("template", config.KeyInputJSONTemplateFilePath, o.template)
	set("seed", config.KeyRandomSeed, o.seed)
	set("state-dir", config.KeyStateDir, o.stateDir)
	return out
}

// loadConfig resolves the configuration. A config file is parsed first on
// its own so its errors can be reported with their location.
func loadConfig(cmd *cobra.Command, g *globalOptions, o *runOptions, stderr io.Writer) (config.Config, error) {
	if o.configPath != "" {
		result := config.ParseConfig(o.configPath)
		if len(result.ParseErrors) > 0 {
			cli.PrintParseErrors(stderr, result.ParseErrors, g.verbose)
			return config.Config{}, &exitError{code: ExitParseError}
		}
		if len(result.ValidationErrors) > 0 {
			cli.PrintValidationErrors(stderr, result.ValidationErrors, g.verbose, g.quiet)
			return config.Config{}, &exitError{code: ExitValidationError}
		}
	}

	cfg, err := config.Resolve(config.LoadOptions{
		File:      o.configPath,
		Overrides: o.overrides(cmd),
	})
	if err != nil {
		return config.Config{}, report(stderr, err, g.verbose)
	}
	if err := g.enableDebug(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runFilter(cmd *cobra.Command, g *globalOptions, o *runOptions, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(cmd, g, o, stderr)
	if err != nil {
		return err
	}

	if !g.quiet {
		fmt.Fprintln(stdout, "Starting filter")
		cli.PrintConfigSummary(stdout, cfg, g.output())
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if o.metricsAddr != "" {
		stopMetrics, err := serveMetrics(o.metricsAddr, m)
		if err != nil {
			return report(stderr, err, g.verbose)
		}
		defer stopMetrics()
	}

	var up scheduler.Upstream = scheduler.NoUpstream{}
	if o.upstream != "" {
		nd, err := scheduler.OpenNDJSONUpstream(o.upstream)
		if err != nil {
			return report(stderr, err, g.verbose)
		}
		defer nd.Close()
		up = nd
	}

	f := runtime.New(m)
	if err := f.Setup(cfg); err != nil {
		return report(stderr, err, g.verbose)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := scheduler.Options{
		Interval:          o.interval,
		MaxCycles:         o.cycles,
		StopOnEndOfStream: o.stopAtEOS,
	}
	if g.verbose && !g.quiet {
		opts.OnResult = func(res *frame.Result) { cli.PrintCycle(stdout, res) }
	}

	started := time.Now()
	sum, runErr := scheduler.Run(ctx, f, up, opts)
	shutdownErr := f.Shutdown()

	cli.PrintRunSummary(stdout, sum, time.Since(started), g.output())
	if runErr != nil {
		return report(stderr, runErr, g.verbose)
	}
	if shutdownErr != nil {
		return report(stderr, shutdownErr, g.verbose)
	}
	return nil
}

func runValidate(cmd *cobra.Command, g *globalOptions, o *runOptions, stdout, stderr io.Writer) error {
	if !g.quiet && o.configPath != "" {
		fmt.Fprintf(stdout, "Validating configuration: %s\n", o.configPath)
	}

	cfg, err := loadConfig(cmd, g, o, stderr)
	if err != nil {
		return err
	}

	src, err := factory.CreateInputModule(&cfg)
	if err != nil {
		return report(stderr, err, g.verbose)
	}
	if err := src.Close(); err != nil {
		return report(stderr, err, g.verbose)
	}
	if _, err := factory.CreateFilterModules(&cfg); err != nil {
		return report(stderr, err, g.verbose)
	}

	if !g.quiet {
		fmt.Fprintln(stdout, "✓ Configuration is valid")
		cli.PrintConfigSummary(stdout, cfg, g.output())
	}
	return nil
}

func runGenerate(g *globalOptions, o *generateOptions, stdout, stderr io.Writer) error {
	if o.count < 0 {
		return report(stderr, errhandling.NewConfigError("count", fmt.Sprintf("count %d must not be negative", o.count), nil), g.verbose)
	}
	if o.probability < 0 || o.probability > 1 {
		return report(stderr, errhandling.NewConfigError(config.KeyOptionalProbability,
			fmt.Sprintf("probability %v outside [0, 1]", o.probability), nil), g.verbose)
	}

	tmpl, err := schema.LoadTemplate(o.template)
	if err != nil {
		return report(stderr, err, g.verbose)
	}
	gen := schema.NewGenerator(schema.GeneratorOptions{Seed: o.seed, OptionalProbability: o.probability})

	for i := 0; i < o.count; i++ {
		event, err := gen.Generate(tmpl)
		if err != nil {
			return report(stderr, err, g.verbose)
		}
		line, err := output.EncodeLine(event)
		if err != nil {
			return report(stderr, err, g.verbose)
		}
		if _, err := stdout.Write(line); err != nil {
			return &exitError{code: ExitRuntimeError, err: err}
		}
	}
	return nil
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown func.
func serveMetrics(addr string, m *metrics.Metrics) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errhandling.NewIOError("listen for metrics", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// report prints err and wraps it with the matching exit code.
func report(stderr io.Writer, err error, verbose bool) error {
	cli.PrintError(stderr, err, verbose)
	return &exitError{code: exitCode(err), err: err}
}

// exitCode classifies an error: unreadable config files and templates are
// parse errors, invalid values are configuration errors, and everything
// else happened at runtime.
func exitCode(err error) int {
	var pe config.ParseError
	if errors.As(err, &pe) {
		return ExitParseError
	}
	switch errhandling.GetErrorCategory(err) {
	case errhandling.CategorySchema:
		return ExitParseError
	case errhandling.CategoryConfig:
		return ExitValidationError
	default:
		return ExitRuntimeError
	}
}
