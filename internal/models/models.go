// Package models defines the value types shared across the agent: poll
// outcomes, per-instance idle state, and the per-cycle decision snapshot.
// These structures are serialized to JSON for the structured cycle log.
package models

import "time"

// InstanceID is the opaque, poll-stable identifier of an AMP instance.
// It keys all per-instance state.
type InstanceID string

// Observation is the immutable result of one successful poll.
type Observation struct {
	Instance    InstanceID `json:"instance"`
	PlayerCount int        `json:"player_count"`
	ObservedAt  time.Time  `json:"observed_at"`
}

// OutcomeKind tags a PollOutcome.
type OutcomeKind int

const (
	// OutcomeSuccess carries a valid Observation.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeTransient marks network/timeout/rate-limit failures that may
	// self-resolve by retrying.
	OutcomeTransient

	// OutcomeFatal marks authentication or configuration failures that will
	// not self-resolve and need operator attention.
	OutcomeFatal
)

// String returns the label used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// PollOutcome is the typed result of polling one instance.
type PollOutcome struct {
	Instance    InstanceID
	Kind        OutcomeKind
	Observation Observation // valid only when Kind == OutcomeSuccess
	Err         error       // nil when Kind == OutcomeSuccess
}

// SuccessOutcome wraps a successful observation.
func SuccessOutcome(obs Observation) PollOutcome {
	return PollOutcome{Instance: obs.Instance, Kind: OutcomeSuccess, Observation: obs}
}

// TransientOutcome wraps a retryable failure.
func TransientOutcome(id InstanceID, err error) PollOutcome {
	return PollOutcome{Instance: id, Kind: OutcomeTransient, Err: err}
}

// FatalOutcome wraps a non-retryable failure.
func FatalOutcome(id InstanceID, err error) PollOutcome {
	return PollOutcome{Instance: id, Kind: OutcomeFatal, Err: err}
}

// Phase is the idle/active classification of one instance.
type Phase int

const (
	// PhaseUnknown means no trustworthy observation is available. Unknown
	// instances count as active so an unobservable fleet is never shut down.
	PhaseUnknown Phase = iota

	// PhaseActive means the last observation was above the threshold.
	PhaseActive

	// PhaseIdle means the instance has been at or below its threshold
	// continuously since IdleSince.
	PhaseIdle
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// MarshalText makes Phase render as its name in JSON log output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// IdleState is the per-instance tracking record held across cycles.
// IdleSince is non-zero if and only if Phase == PhaseIdle, and then marks the
// start of the current unbroken idle episode.
type IdleState struct {
	Instance            InstanceID  `json:"instance"`
	Phase               Phase       `json:"phase"`
	IdleSince           time.Time   `json:"idle_since,omitempty"`
	LastOutcome         OutcomeKind `json:"-"`
	ConsecutiveFailures int         `json:"consecutive_failures,omitempty"`
}

// IdleDuration returns how long the instance has been idle as of now,
// or zero when the instance is not idle.
func (s IdleState) IdleDuration(now time.Time) time.Duration {
	if s.Phase != PhaseIdle || s.IdleSince.IsZero() {
		return 0
	}
	return now.Sub(s.IdleSince)
}

// DecisionSnapshot is the immutable result of one scheduler cycle.
type DecisionSnapshot struct {
	CycleTime               time.Time   `json:"cycle_time"`
	FleetIdle               bool        `json:"fleet_idle"`
	SuppressedByMaintenance bool        `json:"suppressed_by_maintenance"`
	ShutdownTriggered       bool        `json:"shutdown_triggered"`
	DryRun                  bool        `json:"dry_run"`
	Reason                  string      `json:"reason,omitempty"`
	Instances               []IdleState `json:"instances"`
}
