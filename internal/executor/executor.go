// Package executor is the boundary between the decision engine and the host
// power-off. The engine only ever sees the Executor capability; dry-run is a
// wiring choice, not a branch inside decision logic.
package executor

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// Executor performs or simulates the host power-off. TriggerShutdown is
// invoked at most once per idle episode; implementations must be idempotently
// ignorable if the host is already shutting down.
type Executor interface {
	TriggerShutdown(ctx context.Context, reason string) error
}

// DryRun logs the decision and its justification without side effects.
type DryRun struct {
	logger *zap.Logger
}

// NewDryRun creates the dry-run variant.
func NewDryRun(logger *zap.Logger) *DryRun {
	return &DryRun{logger: logger}
}

// TriggerShutdown records what a live executor would have done.
func (d *DryRun) TriggerShutdown(_ context.Context, reason string) error {
	d.logger.Warn("Dry-run: would shut down host", zap.String("reason", reason))
	return nil
}

// System invokes the OS power-off command. The dispatch is fire-and-forget:
// it deliberately ignores the caller's context, because a shutdown already
// decided must not be cancelled by the loop winding down.
type System struct {
	logger *zap.Logger
}

// NewSystem creates the live variant.
func NewSystem(logger *zap.Logger) *System {
	return &System{logger: logger}
}

// TriggerShutdown issues the host power-off command.
func (s *System) TriggerShutdown(_ context.Context, reason string) error {
	fields := []zap.Field{zap.String("reason", reason)}
	if uptime, err := host.Uptime(); err == nil {
		fields = append(fields, zap.Uint64("host_uptime_seconds", uptime))
	}
	s.logger.Warn("Issuing host shutdown command", fields...)

	name, args := shutdownCommand()
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("shutdown command %q: %w (output: %s)", name, err, out)
	}
	return nil
}
