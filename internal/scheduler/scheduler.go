// Package scheduler drives the fixed-cadence monitoring loop. Each tick it
// reloads the configuration snapshot, fans out per-instance polls over a
// bounded worker pool, advances the idle tracker, runs the decision engine
// single-threaded, and emits the cycle record.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/ampwatch/agent/internal/config"
	"github.com/ampwatch/agent/internal/engine"
	"github.com/ampwatch/agent/internal/executor"
	"github.com/ampwatch/agent/internal/idle"
	"github.com/ampwatch/agent/internal/logging"
	"github.com/ampwatch/agent/internal/maintenance"
	"github.com/ampwatch/agent/internal/metrics"
	"github.com/ampwatch/agent/internal/models"
)

// Poller is the per-instance poll capability the scheduler fans out over.
type Poller interface {
	Poll(ctx context.Context, id models.InstanceID) models.PollOutcome
}

// PollerFactory returns the Poller for a config snapshot, letting hot reloads
// repoint the agent at a different panel between cycles.
type PollerFactory func(cfg *config.Config) Poller

// Scheduler owns the only two pieces of state that outlive a cycle: the
// config store and the idle tracker. The decision path runs entirely on the
// loop goroutine; poll workers communicate results back through a collection
// step and never touch shared state.
type Scheduler struct {
	store   *config.Store
	pollers PollerFactory
	live    executor.Executor
	dry     executor.Executor
	tracker *idle.Tracker
	engine  *engine.Engine
	logger  *zap.Logger
	level   zap.AtomicLevel

	// now is the clock; tests substitute it.
	now func() time.Time
}

// New creates a scheduler. level is the logger's atomic level, re-applied
// from the config snapshot each cycle so log verbosity hot-reloads too.
func New(store *config.Store, pollers PollerFactory, live, dry executor.Executor, logger *zap.Logger, level zap.AtomicLevel) *Scheduler {
	return &Scheduler{
		store:   store,
		pollers: pollers,
		live:    live,
		dry:     dry,
		tracker: idle.NewTracker(logger),
		engine:  engine.New(logger),
		logger:  logger,
		level:   level,
		now:     time.Now,
	}
}

// Run executes cycles until the context is cancelled. The first cycle runs
// immediately; subsequent ticks honor the interval of the snapshot that was
// current when the previous cycle finished, so interval changes hot-apply.
func (s *Scheduler) Run(ctx context.Context) {
	cfg := s.store.Current()
	s.logger.Info("Monitor starting",
		zap.Duration("poll_interval", cfg.PollInterval()),
		zap.Bool("dry_run", cfg.DryRun))

	for {
		s.RunCycle(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("Monitor stop requested")
			return
		case <-time.After(s.store.Current().PollInterval()):
		}
	}
}

// RunCycle executes exactly one monitoring cycle against one configuration
// snapshot. Exported so a one-shot "check now" invocation can reuse it.
func (s *Scheduler) RunCycle(ctx context.Context) models.DecisionSnapshot {
	cfg := s.store.Reload()
	s.applyLogLevel(cfg)
	now := s.now()

	if len(cfg.SelectedInstances) == 0 {
		s.logger.Warn("No instances selected for monitoring")
	}

	outcomes := s.pollAll(ctx, cfg)
	if ctx.Err() != nil {
		// Abandon in-flight work without mutating the idle table, so a
		// cancelled cycle leaves no partial state behind.
		return models.DecisionSnapshot{CycleTime: now, Reason: "cycle cancelled"}
	}

	for _, id := range cfg.SelectedInstances {
		outcome, ok := outcomes[id]
		if !ok {
			continue
		}
		metrics.PollOutcomes.WithLabelValues(outcome.Kind.String()).Inc()
		s.tracker.Apply(outcome, cfg.EffectiveThreshold(id), cfg.FailureTolerance)
	}

	selected := make(map[models.InstanceID]bool, len(cfg.SelectedInstances))
	for _, id := range cfg.SelectedInstances {
		selected[id] = true
	}
	s.tracker.Prune(selected)

	states := s.tracker.Snapshot(cfg.SelectedInstances)
	suppressed := maintenance.Suppressed(now.Local(), cfg.MaintenanceWindows)

	exec := s.live
	if cfg.DryRun {
		exec = s.dry
	}

	snap := s.engine.Evaluate(ctx, engine.Cycle{
		Now:        now,
		States:     states,
		IdleDelay:  cfg.IdleDelay(),
		Suppressed: suppressed,
		DryRun:     cfg.DryRun,
	}, exec)

	s.observe(snap)
	return snap
}

// pollAll fans the selected instances out over a bounded worker pool and
// collects every outcome before returning. Workers are read-only with respect
// to shared state; results come back through the mutex-guarded map only.
func (s *Scheduler) pollAll(ctx context.Context, cfg *config.Config) map[models.InstanceID]models.PollOutcome {
	poller := s.pollers(cfg)
	results := make(map[models.InstanceID]models.PollOutcome, len(cfg.SelectedInstances))

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.MaxConcurrentPolls)

	for _, id := range cfg.SelectedInstances {
		wg.Add(1)
		go func(id models.InstanceID) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			pollCtx, cancel := context.WithTimeout(ctx, cfg.PollTimeout())
			defer cancel()

			outcome := poller.Poll(pollCtx, id)
			mu.Lock()
			results[id] = outcome
			mu.Unlock()
		}(id)
	}

	wg.Wait()
	return results
}

// applyLogLevel hot-applies the snapshot's log level.
func (s *Scheduler) applyLogLevel(cfg *config.Config) {
	level := logging.ParseLevel(cfg.LogLevel)
	if s.level.Level() != level {
		s.logger.Info("Log level changed", zap.String("level", level.String()))
		s.level.SetLevel(level)
	}
}

// observe emits the structured cycle record and updates metrics. The record
// carries the full decision snapshot plus per-instance idle state, suitable
// for append-only logging; nothing else depends on its content.
func (s *Scheduler) observe(snap models.DecisionSnapshot) {
	metrics.CyclesTotal.Inc()
	if snap.FleetIdle {
		metrics.FleetIdle.Set(1)
	} else {
		metrics.FleetIdle.Set(0)
	}
	if snap.SuppressedByMaintenance {
		metrics.SuppressedCycles.Inc()
	}
	if snap.ShutdownTriggered {
		mode := "live"
		if snap.DryRun {
			mode = "dry_run"
		}
		metrics.ShutdownsTriggered.WithLabelValues(mode).Inc()
	}

	fields := []zap.Field{
		zap.Time("cycle_time", snap.CycleTime),
		zap.Bool("fleet_idle", snap.FleetIdle),
		zap.Bool("suppressed_by_maintenance", snap.SuppressedByMaintenance),
		zap.Bool("shutdown_triggered", snap.ShutdownTriggered),
		zap.Bool("dry_run", snap.DryRun),
		zap.String("reason", snap.Reason),
		zap.Any("instances", snap.Instances),
	}
	if uptime, err := host.Uptime(); err == nil {
		fields = append(fields, zap.Uint64("host_uptime_seconds", uptime))
	}
	s.logger.Info("Cycle complete", fields...)
}
