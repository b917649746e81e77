package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ampwatch/agent/internal/config"
	"github.com/ampwatch/agent/internal/models"
)

// scriptedPoller returns pre-set outcomes, stamping successful observations
// with the given observation time.
type scriptedPoller struct {
	players    map[models.InstanceID]int
	failures   map[models.InstanceID]models.PollOutcome
	observedAt time.Time
}

func (p *scriptedPoller) Poll(_ context.Context, id models.InstanceID) models.PollOutcome {
	if outcome, ok := p.failures[id]; ok {
		return outcome
	}
	return models.SuccessOutcome(models.Observation{
		Instance:    id,
		PlayerCount: p.players[id],
		ObservedAt:  p.observedAt,
	})
}

type recordingExecutor struct {
	calls int
}

func (r *recordingExecutor) TriggerShutdown(_ context.Context, _ string) error {
	r.calls++
	return nil
}

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0640))
	return path
}

func newTestScheduler(t *testing.T, yaml string, poller Poller, live, dry *recordingExecutor) (*Scheduler, *config.Store) {
	t.Helper()
	store, err := config.NewStore(writeConfig(t, yaml), zap.NewNop())
	require.NoError(t, err)

	s := New(
		store,
		func(*config.Config) Poller { return poller },
		live,
		dry,
		zap.NewNop(),
		zap.NewAtomicLevel(),
	)
	return s, store
}

// dryRunYAML is a minimal valid config for two monitored instances.
func dryRunYAML(dryRun bool) string {
	yaml := `
amp_base_url: "https://amp.example.net"
poll_interval_seconds: 30
idle_delay_minutes: 10
global_player_threshold: 0
selected_instances: [a, b]
dry_run: false
`
	if dryRun {
		return strings.Replace(yaml, "dry_run: false", "dry_run: true", 1)
	}
	return yaml
}

func TestRunCycleDryRun(t *testing.T) {
	now := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)
	poller := &scriptedPoller{
		players:    map[models.InstanceID]int{"a": 0, "b": 0},
		observedAt: now.Add(-30 * time.Minute),
	}
	live := &recordingExecutor{}
	dry := &recordingExecutor{}

	s, _ := newTestScheduler(t, dryRunYAML(true), poller, live, dry)
	s.now = func() time.Time { return now }

	snap := s.RunCycle(context.Background())

	assert.True(t, snap.FleetIdle)
	assert.True(t, snap.DryRun)
	assert.True(t, snap.ShutdownTriggered)
	assert.Equal(t, 1, dry.calls, "dry-run variant receives the decision")
	assert.Equal(t, 0, live.calls, "live path must never be invoked in dry-run")
}

func TestRunCycleFatalPollForcesActive(t *testing.T) {
	now := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)
	poller := &scriptedPoller{
		players:    map[models.InstanceID]int{"b": 0},
		observedAt: now.Add(-30 * time.Minute),
		failures: map[models.InstanceID]models.PollOutcome{
			"a": models.FatalOutcome("a", errors.New("401 unauthorized")),
		},
	}
	live := &recordingExecutor{}
	dry := &recordingExecutor{}

	s, _ := newTestScheduler(t, dryRunYAML(false), poller, live, dry)
	s.now = func() time.Time { return now }

	snap := s.RunCycle(context.Background())

	assert.False(t, snap.FleetIdle, "an unobservable instance keeps the fleet active")
	assert.Equal(t, 0, live.calls)
	assert.Equal(t, 0, dry.calls)

	require.Len(t, snap.Instances, 2)
	assert.Equal(t, models.PhaseUnknown, snap.Instances[0].Phase)
	assert.Equal(t, models.PhaseIdle, snap.Instances[1].Phase)
}

func TestRunCycleLiveShutdownOncePerEpisode(t *testing.T) {
	now := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)
	poller := &scriptedPoller{
		players:    map[models.InstanceID]int{"a": 0, "b": 0},
		observedAt: now.Add(-30 * time.Minute),
	}
	live := &recordingExecutor{}
	dry := &recordingExecutor{}

	s, _ := newTestScheduler(t, dryRunYAML(false), poller, live, dry)
	s.now = func() time.Time { return now }

	first := s.RunCycle(context.Background())
	assert.True(t, first.ShutdownTriggered)

	// Further cycles in the same unbroken episode must not re-trigger.
	for i := 0; i < 3; i++ {
		now = now.Add(time.Minute)
		snap := s.RunCycle(context.Background())
		assert.False(t, snap.ShutdownTriggered)
	}
	assert.Equal(t, 1, live.calls)
	assert.Equal(t, 0, dry.calls)
}

func TestRunCycleCancelledContext(t *testing.T) {
	poller := &scriptedPoller{
		players:    map[models.InstanceID]int{"a": 0, "b": 0},
		observedAt: time.Now().Add(-30 * time.Minute),
	}
	live := &recordingExecutor{}
	dry := &recordingExecutor{}

	s, _ := newTestScheduler(t, dryRunYAML(false), poller, live, dry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := s.RunCycle(ctx)

	assert.False(t, snap.ShutdownTriggered)
	assert.Equal(t, 0, live.calls, "a cancelled cycle must not act")
	assert.Equal(t, models.PhaseUnknown, s.tracker.State("a").Phase,
		"a cancelled cycle must not mutate the idle table")
}

func TestRunCycleConfigHotReload(t *testing.T) {
	now := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)
	poller := &scriptedPoller{
		players:    map[models.InstanceID]int{"a": 0, "b": 0, "c": 5},
		observedAt: now.Add(-30 * time.Minute),
	}
	live := &recordingExecutor{}
	dry := &recordingExecutor{}

	path := writeConfig(t, dryRunYAML(true))
	store, err := config.NewStore(path, zap.NewNop())
	require.NoError(t, err)

	s := New(store, func(*config.Config) Poller { return poller }, live, dry,
		zap.NewNop(), zap.NewAtomicLevel())
	s.now = func() time.Time { return now }

	s.RunCycle(context.Background())
	assert.Equal(t, 1, dry.calls)

	t.Run("invalid reload keeps monitoring with previous snapshot", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("idle_delay_minutes: -3"), 0640))
		now = now.Add(time.Minute)
		snap := s.RunCycle(context.Background())
		assert.Len(t, snap.Instances, 2, "previous selection stays in force")
	})

	t.Run("adding a busy instance makes the fleet active", func(t *testing.T) {
		updated := `
amp_base_url: "https://amp.example.net"
poll_interval_seconds: 30
idle_delay_minutes: 10
selected_instances: [a, b, c]
dry_run: true
`
		require.NoError(t, os.WriteFile(path, []byte(updated), 0640))
		now = now.Add(time.Minute)
		snap := s.RunCycle(context.Background())
		assert.False(t, snap.FleetIdle)
		require.Len(t, snap.Instances, 3)
		assert.Equal(t, models.PhaseActive, snap.Instances[2].Phase)
	})
}

