// Package logger provides structured logging functionality.
// It wraps the standard log/slog package for consistent logging across the filter.
//
// Helpers attach filter and cycle context with consistent snake_case field
// names. Two console formats are supported:
//   - JSON (default): Machine-readable structured logging
//   - Human: Human-readable console output with colors and prefixes
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is the default logger instance.
var Logger *slog.Logger

func init() {
	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// SetLevel configures the logging level.
func SetLevel(level slog.Level) {
	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// WithFilter returns a logger with filter context.
func WithFilter(filterID string) *slog.Logger {
	return Logger.With("filter_id", filterID)
}

// WithModule returns a logger with module context.
func WithModule(moduleType string, moduleName string) *slog.Logger {
	return Logger.With("module_type", moduleType, "module_name", moduleName)
}

// =============================================================================
// Cycle Context
// =============================================================================

// CycleContext identifies one processing cycle for logging.
type CycleContext struct {
	// FilterID is the identifier of the filter instance (required)
	FilterID string
	// Mode is the configured output mode (echo, random)
	Mode string
	// Cycle is the 1-based cycle number; 0 omits the field
	Cycle int64
	// Stage is the step inside the cycle (source, transform, emit, forward)
	Stage string
}

// ErrorContext contains structured context for error logging.
// Use this with LogError() for consistent, actionable error logs.
type ErrorContext struct {
	FilterID string
	Mode     string
	Cycle    int64
	Stage    string

	ErrorCode    string
	ErrorMessage string
	Err          error

	// Path is the file involved, if any
	Path string
	// Line is the input line number, if any
	Line int

	Duration time.Duration

	// Additional context as key-value pairs
	Extra map[string]interface{}
}

// WithCycle returns a logger with cycle context attached.
// Only non-empty fields are included in the log output.
func WithCycle(ctx CycleContext) *slog.Logger {
	return Logger.With(buildCycleAttrs(ctx)...)
}

// LogCycleEnd logs the completion of a processing cycle.
func LogCycleEnd(ctx CycleContext, emitted bool, forwarded int, duration time.Duration) {
	attrs := buildCycleAttrs(ctx)
	attrs = append(attrs,
		slog.Bool("emitted", emitted),
		slog.Int("forwarded_frames", forwarded),
		slog.Duration("duration", duration),
	)
	Logger.Debug("cycle completed", attrs...)
}

// LogSkipped logs a cycle that produced no event and the reason why.
// Skipped events are always logged at debug level so no event is lost silently.
func LogSkipped(ctx CycleContext, reason string, err error) {
	attrs := buildCycleAttrs(ctx)
	attrs = append(attrs, slog.String("reason", reason))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	Logger.Debug("event skipped", attrs...)
}

// LogError logs an error with full cycle context, including the unwrapped error chain.
func LogError(message string, errCtx ErrorContext) {
	attrs := make([]any, 0, 16)

	if errCtx.FilterID != "" {
		attrs = append(attrs, slog.String("filter_id", errCtx.FilterID))
	}
	if errCtx.Mode != "" {
		attrs = append(attrs, slog.String("mode", errCtx.Mode))
	}
	if errCtx.Cycle > 0 {
		attrs = append(attrs, slog.Int64("cycle", errCtx.Cycle))
	}
	if errCtx.Stage != "" {
		attrs = append(attrs, slog.String("stage", errCtx.Stage))
	}

	if errCtx.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", errCtx.ErrorCode))
	}
	if errCtx.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", errCtx.ErrorMessage))
	} else if errCtx.Err != nil {
		attrs = append(attrs, slog.String("error", errCtx.Err.Error()))
	}
	if errCtx.Err != nil {
		attrs = append(attrs, slog.String("error_type", fmt.Sprintf("%T", errCtx.Err)))

		errorChain := []string{errCtx.Err.Error()}
		currentErr := errCtx.Err
		for {
			unwrapped := errors.Unwrap(currentErr)
			if unwrapped == nil {
				break
			}
			errorChain = append(errorChain, unwrapped.Error())
			currentErr = unwrapped
		}
		if len(errorChain) > 1 {
			attrs = append(attrs, slog.String("error_chain", strings.Join(errorChain, " -> ")))
		}
	}

	if errCtx.Path != "" {
		attrs = append(attrs, slog.String("path", errCtx.Path))
	}
	if errCtx.Line > 0 {
		attrs = append(attrs, slog.Int("line", errCtx.Line))
	}
	if errCtx.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", errCtx.Duration))
	}

	for k, v := range errCtx.Extra {
		attrs = append(attrs, slog.Any(k, v))
	}

	Logger.Error(message, attrs...)
}

// buildCycleAttrs builds a slice of slog attributes from a CycleContext.
func buildCycleAttrs(ctx CycleContext) []any {
	attrs := make([]any, 0, 4)
	attrs = append(attrs, slog.String("filter_id", ctx.FilterID))
	if ctx.Mode != "" {
		attrs = append(attrs, slog.String("mode", ctx.Mode))
	}
	if ctx.Cycle > 0 {
		attrs = append(attrs, slog.Int64("cycle", ctx.Cycle))
	}
	if ctx.Stage != "" {
		attrs = append(attrs, slog.String("stage", ctx.Stage))
	}
	return attrs
}

// =============================================================================
// Human-Readable Log Format Support
// =============================================================================

// OutputFormat represents the log output format
type OutputFormat int

const (
	// FormatJSON is the default machine-readable JSON format
	FormatJSON OutputFormat = iota
	// FormatHuman is a human-readable console format with colors and prefixes
	FormatHuman
)

// ParseFormat converts a format name ("json", "human") to an OutputFormat.
func ParseFormat(name string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "human", "text", "console":
		return FormatHuman, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format %q", name)
	}
}

// SetLevelAndFormat sets both the log level and format.
func SetLevelAndFormat(level slog.Level, format OutputFormat) {
	Logger = slog.New(newConsoleHandler(os.Stdout, level, format))
}

func newConsoleHandler(w io.Writer, level slog.Level, format OutputFormat) slog.Handler {
	if format == FormatHuman {
		return NewHumanHandler(w, &HumanHandlerOptions{
			Level:     level,
			UseColors: isTerminal(w),
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// isTerminal returns true if the writer is a terminal (supports colors)
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		fi, err := f.Stat()
		if err != nil {
			return false
		}
		return (fi.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// HumanHandlerOptions configures the human-readable log handler.
type HumanHandlerOptions struct {
	// Level is the minimum log level to output
	Level slog.Level
	// UseColors enables ANSI color codes
	UseColors bool
}

// HumanHandler is a slog handler that outputs human-readable log messages.
type HumanHandler struct {
	opts   HumanHandlerOptions
	writer io.Writer
	attrs  []slog.Attr
	groups []string
}

// NewHumanHandler creates a new human-readable log handler.
func NewHumanHandler(w io.Writer, opts *HumanHandlerOptions) *HumanHandler {
	if opts == nil {
		opts = &HumanHandlerOptions{Level: slog.LevelInfo}
	}
	return &HumanHandler{
		opts:   *opts,
		writer: w,
	}
}

// Enabled returns true if the handler is enabled for the given level.
func (h *HumanHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

// Handle outputs a log record in human-readable format.
func (h *HumanHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	sb.WriteString(r.Time.Format("15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(h.levelPrefix(r.Level))
	sb.WriteString(" ")
	sb.WriteString(r.Message)

	var keyAttrs []string
	for _, a := range h.attrs {
		keyAttrs = append(keyAttrs, h.formatAttr(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		keyAttrs = append(keyAttrs, h.formatAttr(a))
		return true
	})

	// At most 6 attributes inline
	if len(keyAttrs) > 0 {
		sb.WriteString(" ")
		maxInline := min(len(keyAttrs), 6)
		sb.WriteString(strings.Join(keyAttrs[:maxInline], " "))
		if len(keyAttrs) > maxInline {
			sb.WriteString(fmt.Sprintf(" (+%d more)", len(keyAttrs)-maxInline))
		}
	}

	sb.WriteString("\n")
	_, err := io.WriteString(h.writer, sb.String())
	return err
}

// WithAttrs returns a new handler with the given attributes added.
func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandler := &HumanHandler{
		opts:   h.opts,
		writer: h.writer,
		attrs:  make([]slog.Attr, len(h.attrs)+len(attrs)),
		groups: h.groups,
	}
	copy(newHandler.attrs, h.attrs)
	copy(newHandler.attrs[len(h.attrs):], attrs)
	return newHandler
}

// WithGroup returns a new handler with the given group name.
func (h *HumanHandler) WithGroup(name string) slog.Handler {
	return &HumanHandler{
		opts:   h.opts,
		writer: h.writer,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

func (h *HumanHandler) levelPrefix(level slog.Level) string {
	const (
		colorReset  = "\033[0m"
		colorRed    = "\033[31m"
		colorYellow = "\033[33m"
		colorCyan   = "\033[36m"
	)

	var prefix, color string
	switch {
	case level >= slog.LevelError:
		prefix, color = "✗", colorRed
	case level >= slog.LevelWarn:
		prefix, color = "⚠", colorYellow
	case level >= slog.LevelInfo:
		prefix, color = "ℹ", colorCyan
	default:
		prefix, color = "·", colorReset
	}

	if h.opts.UseColors {
		return color + prefix + colorReset
	}
	return prefix
}

func (h *HumanHandler) formatAttr(a slog.Attr) string {
	key := a.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + key
	}
	value := a.Value.Any()

	if d, ok := value.(time.Duration); ok {
		return fmt.Sprintf("%s=%s", key, formatDuration(d))
	}
	if f, ok := value.(float64); ok {
		return fmt.Sprintf("%s=%.2f", key, f)
	}
	return fmt.Sprintf("%s=%v", key, value)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// =============================================================================
// Log File Output Support
// =============================================================================

// logFile holds the currently open log file (if any)
var logFile *os.File

// SetLogFile configures logging to write to both stdout and the specified file.
// File logs are always JSON. Returns an error if the file cannot be opened.
func SetLogFile(path string, level slog.Level, consoleFormat OutputFormat) error {
	CloseLogFile()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	logFile = f

	Logger = slog.New(&dualHandler{
		console: newConsoleHandler(os.Stdout, level, consoleFormat),
		file:    slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}),
	})

	Debug("log file opened", slog.String("path", path))
	return nil
}

// CloseLogFile closes the current log file if one is open.
func CloseLogFile() {
	if logFile == nil {
		return
	}
	if err := logFile.Sync(); err != nil {
		Warn("failed to sync log file", slog.String("error", err.Error()))
	}
	if err := logFile.Close(); err != nil {
		Warn("failed to close log file", slog.String("error", err.Error()))
	}
	logFile = nil
}

// dualHandler is a slog.Handler that writes to both console and file handlers.
type dualHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (d *dualHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return d.console.Enabled(ctx, level) || d.file.Enabled(ctx, level)
}

func (d *dualHandler) Handle(ctx context.Context, r slog.Record) error {
	if d.console.Enabled(ctx, r.Level) {
		if err := d.console.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	if d.file.Enabled(ctx, r.Level) {
		if err := d.file.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (d *dualHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dualHandler{
		console: d.console.WithAttrs(attrs),
		file:    d.file.WithAttrs(attrs),
	}
}

func (d *dualHandler) WithGroup(name string) slog.Handler {
	return &dualHandler{
		console: d.console.WithGroup(name),
		file:    d.file.WithGroup(name),
	}
}
