package maintenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ampwatch/agent/internal/config"
)

// Jan 3 2026 is a Saturday; Jan 4 a Sunday.
func localTime(day, hour, minute int) time.Time {
	return time.Date(2026, time.January, day, hour, minute, 0, 0, time.Local)
}

func TestSuppressed(t *testing.T) {
	saturdayLateNight := []config.MaintenanceWindow{
		{Days: []string{"sat"}, Start: "23:00", End: "01:00"},
	}

	t.Run("window spanning midnight", func(t *testing.T) {
		assert.True(t, Suppressed(localTime(3, 23, 30), saturdayLateNight), "Saturday 23:30")
		assert.True(t, Suppressed(localTime(4, 0, 30), saturdayLateNight), "Sunday 00:30")
		assert.False(t, Suppressed(localTime(4, 2, 0), saturdayLateNight), "Sunday 02:00")
		assert.False(t, Suppressed(localTime(3, 22, 59), saturdayLateNight), "Saturday before start")
	})

	t.Run("end is exclusive", func(t *testing.T) {
		windows := []config.MaintenanceWindow{
			{Days: []string{"sun"}, Start: "01:00", End: "05:00"},
		}
		assert.True(t, Suppressed(localTime(4, 1, 0), windows))
		assert.True(t, Suppressed(localTime(4, 4, 59), windows))
		assert.False(t, Suppressed(localTime(4, 5, 0), windows))
	})

	t.Run("day must match", func(t *testing.T) {
		windows := []config.MaintenanceWindow{
			{Days: []string{"mon"}, Start: "01:00", End: "05:00"},
		}
		assert.False(t, Suppressed(localTime(4, 2, 0), windows), "Sunday is not Monday")
		assert.True(t, Suppressed(localTime(5, 2, 0), windows), "Monday matches")
	})

	t.Run("wildcard day matches every day", func(t *testing.T) {
		windows := []config.MaintenanceWindow{
			{Days: []string{"*"}, Start: "03:00", End: "04:00"},
		}
		assert.True(t, Suppressed(localTime(3, 3, 30), windows))
		assert.True(t, Suppressed(localTime(6, 3, 30), windows))
	})

	t.Run("overlapping windows form a union", func(t *testing.T) {
		windows := []config.MaintenanceWindow{
			{Days: []string{"sat"}, Start: "10:00", End: "11:00"},
			{Days: []string{"sat"}, Start: "10:30", End: "12:00"},
		}
		assert.True(t, Suppressed(localTime(3, 10, 45), windows))
		assert.True(t, Suppressed(localTime(3, 11, 30), windows))
		assert.False(t, Suppressed(localTime(3, 12, 30), windows))
	})

	t.Run("no windows never suppresses", func(t *testing.T) {
		assert.False(t, Suppressed(localTime(3, 12, 0), nil))
	})
}
