// Package idle implements the per-instance idle state machine. Each instance
// moves between Unknown, Active, and Idle based on the stream of poll
// outcomes; transient polling hiccups never start, end, or extend an idle
// episode on their own.
package idle

import (
	"time"

	"go.uber.org/zap"

	"github.com/ampwatch/agent/internal/models"
)

// Tracker owns the IdleState table across cycles. It is driven exclusively by
// the scheduler's single decision goroutine; there is no internal locking.
type Tracker struct {
	states map[models.InstanceID]models.IdleState
	logger *zap.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		states: make(map[models.InstanceID]models.IdleState),
		logger: logger,
	}
}

// Apply advances one instance's state machine with a poll outcome.
// threshold is the instance's effective player threshold; tolerance is the
// number of consecutive transient failures allowed before the instance is
// demoted to Unknown.
func (t *Tracker) Apply(outcome models.PollOutcome, threshold, tolerance int) {
	st, ok := t.states[outcome.Instance]
	if !ok {
		st = models.IdleState{Instance: outcome.Instance, Phase: models.PhaseUnknown}
	}

	next := advance(st, outcome, threshold, tolerance)

	switch outcome.Kind {
	case models.OutcomeFatal:
		t.logger.Error("Fatal poll failure, instance treated as active",
			zap.String("instance", string(outcome.Instance)),
			zap.Error(outcome.Err))
	case models.OutcomeTransient:
		if next.Phase == models.PhaseUnknown && st.Phase != models.PhaseUnknown {
			t.logger.Warn("Transient failure ceiling exceeded, instance treated as active",
				zap.String("instance", string(outcome.Instance)),
				zap.Int("consecutive_failures", next.ConsecutiveFailures))
		} else {
			t.logger.Debug("Transient poll failure, carrying state forward",
				zap.String("instance", string(outcome.Instance)),
				zap.Int("consecutive_failures", next.ConsecutiveFailures),
				zap.Error(outcome.Err))
		}
	}

	t.states[outcome.Instance] = next
}

// advance is the pure transition function of the state machine.
func advance(st models.IdleState, outcome models.PollOutcome, threshold, tolerance int) models.IdleState {
	st.LastOutcome = outcome.Kind

	switch outcome.Kind {
	case models.OutcomeSuccess:
		st.ConsecutiveFailures = 0
		if outcome.Observation.PlayerCount > threshold {
			// A single busy reading ends the episode immediately; there is no
			// grace period in this direction.
			st.Phase = models.PhaseActive
			st.IdleSince = time.Time{}
		} else if st.Phase != models.PhaseIdle {
			st.Phase = models.PhaseIdle
			st.IdleSince = outcome.Observation.ObservedAt
		}
		// Already idle: IdleSince stays put so the idle duration accumulates.

	case models.OutcomeTransient:
		// Carry the last successful classification forward until the failure
		// ceiling is exceeded, then count the instance as active until a
		// fresh success arrives.
		st.ConsecutiveFailures++
		if st.ConsecutiveFailures > tolerance {
			st.Phase = models.PhaseUnknown
			st.IdleSince = time.Time{}
		}

	case models.OutcomeFatal:
		st.ConsecutiveFailures++
		st.Phase = models.PhaseUnknown
		st.IdleSince = time.Time{}
	}

	return st
}

// State returns the tracked state for an instance. Instances never observed
// report as Unknown.
func (t *Tracker) State(id models.InstanceID) models.IdleState {
	if st, ok := t.states[id]; ok {
		return st
	}
	return models.IdleState{Instance: id, Phase: models.PhaseUnknown}
}

// Snapshot returns the states for the given instances in order. Instances not
// yet observed appear as Unknown, so a freshly-selected instance conservatively
// counts as active until its first successful poll.
func (t *Tracker) Snapshot(ids []models.InstanceID) []models.IdleState {
	out := make([]models.IdleState, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.State(id))
	}
	return out
}

// Prune drops state for instances no longer selected for monitoring, so a
// deselected instance cannot influence later decisions.
func (t *Tracker) Prune(selected map[models.InstanceID]bool) {
	for id := range t.states {
		if !selected[id] {
			delete(t.states, id)
		}
	}
}
