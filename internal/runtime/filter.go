// Package runtime drives the stub filter through its lifecycle.
//
// A StubFilter moves Uninitialized -> Ready on Setup, Ready|Running ->
// Running on each Process call and any state -> Stopped on Shutdown or on a
// fatal output error. Each cycle pulls exactly one event from the source,
// runs the transforms, appends the event to every sink and returns the
// frames to pass downstream.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/factory"
	"github.com/PlainsightAI/filter-stub-application/internal/logger"
	"github.com/PlainsightAI/filter-stub-application/internal/metrics"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/filter"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/input"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/output"
	"github.com/PlainsightAI/filter-stub-application/pkg/frame"
)

// byteCounter is implemented by sinks that track how much they wrote.
type byteCounter interface {
	Bytes() int64
}

// StubFilter emits one synthetic event per cycle.
//
// The filter interacts with its modules only through the input, filter and
// output interfaces. All methods are safe to call from multiple goroutines,
// but cycles never overlap.
type StubFilter struct {
	mu    sync.Mutex
	state State
	cfg   config.Config
	cycle int64

	source     input.Module
	transforms filter.Chain
	sinks      []output.Module
	checkpoint *checkpointer
	metrics    *metrics.Metrics
}

// New returns an uninitialized filter. A nil m records into a private registry.
func New(m *metrics.Metrics) *StubFilter {
	if m == nil {
		m = metrics.New(nil)
	}
	f := &StubFilter{metrics: m}
	m.SetState(int(StateUninitialized))
	return f
}

// State returns the current lifecycle state.
func (f *StubFilter) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Config returns the configuration applied by Setup.
func (f *StubFilter) Config() config.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// Cycles returns how many cycles have run.
func (f *StubFilter) Cycles() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycle
}

// Setup validates cfg, opens the source selected by the output mode, builds
// the transforms and opens the sinks. On failure everything already opened
// is released and the filter stays uninitialized.
func (f *StubFilter) Setup(cfg config.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateUninitialized:
	case StateStopped:
		return ErrNotRunning
	default:
		return ErrAlreadySetUp
	}

	log := logger.WithFilter(cfg.ID)
	if err := cfg.Validate(); err != nil {
		return err
	}

	source, err := factory.CreateInputModule(&cfg)
	if err != nil {
		return fmt.Errorf("setup source: %w", err)
	}

	transforms, err := factory.CreateFilterModules(&cfg)
	if err != nil {
		closeQuietly(log, "source", source)
		return fmt.Errorf("setup transforms: %w", err)
	}

	checkpoint, err := newCheckpointer(context.Background(), &cfg, source, f.metrics)
	if err != nil {
		closeQuietly(log, "source", source)
		return fmt.Errorf("restore checkpoint: %w", err)
	}

	sinks, err := factory.CreateOutputModules(&cfg, f.metrics)
	if err != nil {
		closeQuietly(log, "source", source)
		return fmt.Errorf("setup outputs: %w", err)
	}

	f.cfg = cfg
	f.source = source
	f.transforms = transforms
	f.sinks = sinks
	f.checkpoint = checkpoint
	f.state = StateReady
	f.metrics.SetState(int(StateReady))

	log.Info("filter ready",
		slog.String("mode", string(cfg.OutputMode)),
		slog.String("output", cfg.OutputJSONPath),
		slog.Int("transforms", len(transforms)),
		slog.Int("outputs", len(sinks)),
		slog.Bool("forward_upstream_data", cfg.ForwardUpstreamData),
		slog.Bool("publish_event", cfg.PublishEvent),
		slog.Bool("checkpoint", checkpoint != nil))
	return nil
}

// Process runs one cycle. Per-cycle problems (end of stream, malformed
// input, dropped or failed transforms) are logged and reported through
// Result.SkipReason with a nil error. An I/O error on an output is fatal:
// it is returned and the filter stops.
func (f *StubFilter) Process(ctx context.Context, frames []frame.Frame) (*frame.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateReady && f.state != StateRunning {
		return nil, ErrNotRunning
	}
	if f.state == StateReady {
		f.state = StateRunning
		f.metrics.SetState(int(StateRunning))
	}

	f.cycle++
	start := time.Now()
	result := &frame.Result{Cycle: f.cycle, StartedAt: start}
	cctx := logger.CycleContext{FilterID: f.cfg.ID, Mode: string(f.cfg.OutputMode), Cycle: f.cycle}

	event, err := f.produce(ctx, cctx, result)
	if err != nil {
		return result, err
	}
	if event != nil {
		if err := f.emit(ctx, cctx, result, event); err != nil {
			return result, err
		}
	}
	// Only reached once the event is written, dropped or skipped, so a
	// fatal error never checkpoints an event that was not delivered.
	f.checkpoint.save(f.cycle)

	forwarded := f.forward(result, frames)
	result.Duration = time.Since(start)
	f.metrics.RecordCycle(result.Duration.Seconds(), forwarded)
	logger.LogCycleEnd(cctx, result.Emitted, forwarded, result.Duration)
	return result, nil
}

// produce pulls one event and runs the transforms. A nil event with a nil
// error means the cycle is skipped; result.SkipReason says why.
func (f *StubFilter) produce(ctx context.Context, cctx logger.CycleContext, result *frame.Result) (interface{}, error) {
	event, err := f.source.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch {
		case errors.Is(err, input.ErrEndOfStream):
			f.skip(cctx, result, ReasonEndOfStream, nil)
		case errhandling.IsMalformedLine(err):
			f.skip(cctx, result, ReasonMalformedLine, err)
		default:
			f.skip(cctx, result, ReasonSourceError, err)
		}
		return nil, nil
	}

	cctx.Stage = "transform"
	out, keep, err := f.transforms.Apply(ctx, event)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.skip(cctx, result, ReasonTransformError, err)
		return nil, nil
	}
	if !keep {
		f.skip(cctx, result, ReasonDropped, nil)
		return nil, nil
	}
	return out, nil
}

// emit sends event to every sink in order. Only I/O errors are returned.
func (f *StubFilter) emit(ctx context.Context, cctx logger.CycleContext, result *frame.Result, event interface{}) error {
	cctx.Stage = "emit"
	for i, sink := range f.sinks {
		var before int64
		counter, counts := sink.(byteCounter)
		if counts {
			before = counter.Bytes()
		}

		err := sink.Send(ctx, event)
		switch {
		case err == nil:
			if counts {
				f.metrics.RecordEmit(string(f.cfg.OutputMode), int(counter.Bytes()-before))
			}
		case errhandling.IsIOError(err):
			f.fail(cctx, err)
			return err
		case i == 0:
			// Nothing was written anywhere; the whole cycle is skipped.
			f.skip(cctx, result, ReasonEmitError, err)
			return nil
		default:
			f.metrics.RecordError("mirror")
			logger.WithCycle(cctx).Warn("mirror output failed",
				slog.Int("output_index", i),
				slog.String("error", err.Error()))
		}
	}
	result.Emitted = true
	result.Event = event
	return nil
}

// forward fills result.Frames and returns the number of upstream frames passed on.
func (f *StubFilter) forward(result *frame.Result, frames []frame.Frame) int {
	var passed []frame.Frame
	if f.cfg.ForwardUpstreamData {
		for _, fr := range frames {
			if !fr.HasImage() {
				passed = append(passed, fr)
			}
		}
	}

	if !f.cfg.PublishEvent || !result.Emitted {
		result.Frames = passed
		return len(passed)
	}

	eventFrame := frame.EventFrame(f.cfg.EventTopic, result.Event)
	out := make([]frame.Frame, 0, len(passed)+1)
	if f.cfg.ForwardOrder == config.OrderBefore {
		out = append(out, passed...)
		out = append(out, eventFrame)
	} else {
		out = append(out, eventFrame)
		out = append(out, passed...)
	}
	result.Frames = out
	return len(passed)
}

func (f *StubFilter) skip(cctx logger.CycleContext, result *frame.Result, reason string, err error) {
	result.SkipReason = reason
	f.metrics.RecordSkip(reason)
	logger.LogSkipped(cctx, reason, err)
	if err == nil {
		return
	}

	category := string(errhandling.GetErrorCategory(err))
	if category == "" && reason == ReasonTransformError {
		category = "transform"
	}
	f.metrics.RecordError(category)

	attrs := []any{slog.String("reason", reason), slog.String("error", err.Error())}
	var se *errhandling.StubError
	if errors.As(err, &se) && se.Path != "" {
		attrs = append(attrs, slog.String("path", se.Path))
		if se.Line > 0 {
			attrs = append(attrs, slog.Int("line", se.Line))
		}
	}
	var fe *filter.Error
	if errors.As(err, &fe) {
		attrs = append(attrs, slog.String("error_code", fe.Code))
	}
	logger.WithCycle(cctx).Warn("cycle skipped", attrs...)
}

// fail stops the filter after a fatal error. The caller holds f.mu.
func (f *StubFilter) fail(cctx logger.CycleContext, err error) {
	f.metrics.RecordError(string(errhandling.GetErrorCategory(err)))
	errCtx := logger.ErrorContext{
		FilterID: cctx.FilterID,
		Mode:     cctx.Mode,
		Cycle:    cctx.Cycle,
		Stage:    cctx.Stage,
		Err:      err,
	}
	var se *errhandling.StubError
	if errors.As(err, &se) {
		errCtx.Path = se.Path
	}
	logger.LogError("fatal output error, stopping filter", errCtx)
	_ = f.release()
}

// Shutdown closes the source and sinks and stops the filter. It is idempotent.
func (f *StubFilter) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateStopped {
		return nil
	}
	err := f.release()
	logger.WithFilter(f.cfg.ID).Info("filter stopped", slog.Int64("cycles", f.cycle))
	return err
}

// release closes every module and moves to Stopped. The caller holds f.mu.
func (f *StubFilter) release() error {
	var errs []error
	if f.source != nil {
		if err := f.source.Close(); err != nil {
			errs = append(errs, err)
		}
		f.source = nil
	}
	if err := factory.CloseOutputs(f.sinks); err != nil {
		errs = append(errs, err)
	}
	f.sinks = nil
	f.transforms = nil
	f.checkpoint = nil
	f.state = StateStopped
	f.metrics.SetState(int(StateStopped))
	return errors.Join(errs...)
}

type closer interface {
	Close() error
}

func closeQuietly(log *slog.Logger, name string, c closer) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close module", slog.String("module", name), slog.String("error", err.Error()))
	}
}
