package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDryRunLogsReason(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	exec := NewDryRun(zap.New(core))

	err := exec.TriggerShutdown(context.Background(), "all 2 monitored instances idle since 12:00")
	require.NoError(t, err)

	entries := logs.FilterMessage("Dry-run: would shut down host").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "all 2 monitored instances idle since 12:00",
		entries[0].ContextMap()["reason"])
}

func TestShutdownCommandShape(t *testing.T) {
	name, args := shutdownCommand()
	assert.Equal(t, "shutdown", name)
	assert.NotEmpty(t, args)
}
