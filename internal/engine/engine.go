// Package engine combines the idle tracker's states and the maintenance
// evaluation into a single fleet-wide shutdown decision per cycle, with
// at-most-once dispatch per unbroken idle episode.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ampwatch/agent/internal/executor"
	"github.com/ampwatch/agent/internal/models"
)

// Cycle is everything one evaluation needs. The engine receives its inputs
// per call and retains nothing across cycles except the episode latch.
type Cycle struct {
	Now        time.Time
	States     []models.IdleState
	IdleDelay  time.Duration
	Suppressed bool
	DryRun     bool
}

// Engine makes the per-cycle shutdown decision. It runs strictly
// single-threaded, driven by the scheduler after all polls have completed.
type Engine struct {
	logger *zap.Logger

	// firedEpisode is the fleet's minimum idle_since at the moment a shutdown
	// was dispatched. Non-zero means the current episode has already fired;
	// it resets only when an instance turns Active, i.e. when the episode
	// actually breaks.
	firedEpisode time.Time
}

// New creates an engine with no shutdown in flight.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Evaluate makes the decision for one cycle and dispatches the executor when
// the fleet is idle-eligible, unsuppressed, and the episode has not fired yet.
// It never returns an error: all faults degrade to "fleet active" or are
// logged, and the next cycle re-evaluates naturally.
func (e *Engine) Evaluate(ctx context.Context, c Cycle, exec executor.Executor) models.DecisionSnapshot {
	snap := models.DecisionSnapshot{
		CycleTime: c.Now,
		DryRun:    c.DryRun,
		Instances: c.States,
	}

	for _, st := range c.States {
		if st.Phase == models.PhaseActive {
			// An Active reading breaks the idle episode; the next eligible
			// fleet-idle stretch may trigger again.
			e.firedEpisode = time.Time{}
			break
		}
	}

	idle, episodeStart, reason := fleetIdle(c)
	if !idle {
		snap.Reason = reason
		e.logger.Debug("Fleet not shutdown-eligible", zap.String("reason", reason))
		return snap
	}
	snap.FleetIdle = true

	if c.Suppressed {
		snap.SuppressedByMaintenance = true
		snap.Reason = "maintenance window active"
		e.logger.Info("Fleet idle but shutdown suppressed by maintenance window",
			zap.Time("episode_start", episodeStart))
		return snap
	}

	if !e.firedEpisode.IsZero() {
		snap.Reason = "shutdown already triggered this idle episode"
		e.logger.Debug("Shutdown already in flight for this idle episode",
			zap.Time("episode_start", e.firedEpisode))
		return snap
	}

	snap.Reason = fmt.Sprintf("all %d monitored instances idle since %s (>= %s)",
		len(c.States), episodeStart.UTC().Format(time.RFC3339), c.IdleDelay)

	if err := exec.TriggerShutdown(ctx, snap.Reason); err != nil {
		// Not latched: the episode has not ended, so the next cycle retries
		// the decision naturally.
		snap.Reason = fmt.Sprintf("shutdown attempt failed: %v", err)
		e.logger.Error("Shutdown executor failed", zap.Error(err))
		return snap
	}

	e.firedEpisode = episodeStart
	snap.ShutdownTriggered = true
	return snap
}

// fleetIdle reports whether every monitored instance has been continuously
// idle for at least the configured delay. episodeStart is the fleet's minimum
// idle_since, identifying the current episode.
func fleetIdle(c Cycle) (bool, time.Time, string) {
	if len(c.States) == 0 {
		return false, time.Time{}, "no instances selected for monitoring"
	}

	var episodeStart time.Time
	for _, st := range c.States {
		if st.Phase != models.PhaseIdle {
			return false, time.Time{}, fmt.Sprintf("instance %s is %s", st.Instance, st.Phase)
		}
		if d := st.IdleDuration(c.Now); d < c.IdleDelay {
			return false, time.Time{}, fmt.Sprintf("instance %s idle for only %s of %s",
				st.Instance, d.Truncate(time.Second), c.IdleDelay)
		}
		if episodeStart.IsZero() || st.IdleSince.Before(episodeStart) {
			episodeStart = st.IdleSince
		}
	}
	return true, episodeStart, ""
}
