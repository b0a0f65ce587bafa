// Package scheduler drives a filter's processing cycles on a fixed interval.
// Cycles run strictly one after another; cancellation is honoured only
// between cycles.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/PlainsightAI/filter-stub-application/internal/logger"
	"github.com/PlainsightAI/filter-stub-application/internal/runtime"
	"github.com/PlainsightAI/filter-stub-application/pkg/frame"
)

// Processor runs one cycle. *runtime.StubFilter implements it.
type Processor interface {
	Process(ctx context.Context, frames []frame.Frame) (*frame.Result, error)
}

// Options controls a Run.
type Options struct {
	// Interval is the minimum time between cycle starts. Zero runs cycles back to back.
	Interval time.Duration
	// MaxCycles stops the run after that many cycles. Zero means unbounded.
	MaxCycles int64
	// StopOnEndOfStream stops the run the first time a cycle reports end of stream.
	StopOnEndOfStream bool
	// OnResult, when set, is called after every cycle.
	OnResult func(*frame.Result)
}

// Summary counts what a run did.
type Summary struct {
	Cycles  int64
	Emitted int64
	Skipped int64
}

// Run executes cycles until ctx is canceled, MaxCycles is reached or a
// cycle returns an error. Cancellation is a normal stop and returns a nil
// error; any other cycle error is returned as is.
func Run(ctx context.Context, p Processor, up Upstream, opts Options) (Summary, error) {
	var sum Summary
	if up == nil {
		up = NoUpstream{}
	}
	log := logger.WithModule("scheduler", "interval")

	var ticker *time.Ticker
	if opts.Interval > 0 {
		ticker = time.NewTicker(opts.Interval)
		defer ticker.Stop()
	}

	log.Info("scheduler started",
		slog.Duration("interval", opts.Interval),
		slog.Int64("max_cycles", opts.MaxCycles))

	for {
		if opts.MaxCycles > 0 && sum.Cycles >= opts.MaxCycles {
			log.Info("cycle limit reached", slog.Int64("cycles", sum.Cycles))
			return sum, nil
		}
		if ctx.Err() != nil {
			log.Info("scheduler stopped", slog.Int64("cycles", sum.Cycles))
			return sum, nil
		}

		frames, err := up.Next(ctx)
		if err != nil {
			log.Warn("upstream frames unavailable", slog.String("error", err.Error()))
			frames = nil
		}

		// The cycle itself is never interrupted.
		res, err := p.Process(context.WithoutCancel(ctx), frames)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return sum, nil
			}
			return sum, err
		}
		sum.Cycles++
		if res.Emitted {
			sum.Emitted++
		} else {
			sum.Skipped++
		}
		if opts.OnResult != nil {
			opts.OnResult(res)
		}
		if opts.StopOnEndOfStream && res.SkipReason == runtime.ReasonEndOfStream {
			log.Info("input exhausted", slog.Int64("cycles", sum.Cycles))
			return sum, nil
		}

		if ticker == nil {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped", slog.Int64("cycles", sum.Cycles))
			return sum, nil
		case <-ticker.C:
		}
	}
}
