package runtime

import (
	"context"
	"log/slog"

	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/logger"
	"github.com/PlainsightAI/filter-stub-application/internal/metrics"
	"github.com/PlainsightAI/filter-stub-application/internal/modules/input"
	"github.com/PlainsightAI/filter-stub-application/internal/persistence"
)

// checkpointer records the replay position of a resumable source after
// every consumed event.
type checkpointer struct {
	store      *persistence.StateStore
	source     input.Resumable
	filterID   string
	eventsPath string
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// newCheckpointer returns nil when no state directory is configured or the
// source cannot seek. Otherwise it restores the saved position, if any.
func newCheckpointer(ctx context.Context, cfg *config.Config, source input.Module, m *metrics.Metrics) (*checkpointer, error) {
	if cfg.StateDir == "" {
		return nil, nil
	}
	resumable, ok := source.(input.Resumable)
	if !ok {
		return nil, nil
	}

	c := &checkpointer{
		store:      persistence.NewStateStore(cfg.StateDir),
		source:     resumable,
		filterID:   cfg.ID,
		eventsPath: cfg.InputJSONEventsFilePath,
		metrics:    m,
		log:        logger.WithFilter(cfg.ID),
	}

	state, err := c.store.Load(c.filterID)
	if err != nil {
		c.log.Warn("ignoring unreadable checkpoint", slog.String("error", err.Error()))
		return c, nil
	}
	if state == nil || state.Position <= 0 {
		return c, nil
	}
	if state.EventsPath != c.eventsPath {
		c.log.Info("checkpoint belongs to another events file, starting over",
			slog.String("checkpoint_events", state.EventsPath))
		return c, nil
	}

	skipped, err := resumable.Seek(ctx, state.Position)
	if err != nil {
		return nil, err
	}
	c.log.Info("resuming replay",
		slog.String("events", c.eventsPath),
		slog.Int64("position", skipped),
		slog.Int64("saved_cycles", state.Cycles))
	return c, nil
}

// save stores the current position. Failures are logged, never returned.
func (c *checkpointer) save(cycle int64) {
	if c == nil {
		return
	}
	err := c.store.Save(c.filterID, &persistence.State{
		EventsPath: c.eventsPath,
		Position:   c.source.Position(),
		Cycles:     cycle,
	})
	if err != nil {
		c.metrics.RecordError("state")
		c.log.Warn("failed to save checkpoint", slog.String("error", err.Error()))
	}
}
