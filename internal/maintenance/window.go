// Package maintenance evaluates maintenance-window suppression. The evaluator
// is a pure function of wall-clock time and the configured windows; it never
// suspends and holds no state.
package maintenance

import (
	"strings"
	"time"

	"github.com/ampwatch/agent/internal/config"
)

// Suppressed reports whether now falls inside any configured window.
// Overlapping windows form a union: any single match suppresses.
//
// A window matches on its listed days between [start, end) local time. When
// end < start the window wraps past midnight: it covers [start, 24:00) on the
// listed day and [00:00, end) on the following day.
func Suppressed(now time.Time, windows []config.MaintenanceWindow) bool {
	day := dayToken(now.Weekday())
	prevDay := dayToken((now.Weekday() + 6) % 7)
	minute := now.Hour()*60 + now.Minute()

	for _, w := range windows {
		start, err := config.ParseClock(w.Start)
		if err != nil {
			continue
		}
		end, err := config.ParseClock(w.End)
		if err != nil {
			continue
		}

		switch {
		case start == end:
			// Degenerate half-open interval, matches nothing. Validation
			// rejects it; skip defensively if one slips through.
		case start < end:
			if matchesDay(w.Days, day) && minute >= start && minute < end {
				return true
			}
		default:
			// Wraps past midnight: the evening of the listed day, or the
			// early morning of the day after.
			if matchesDay(w.Days, day) && minute >= start {
				return true
			}
			if matchesDay(w.Days, prevDay) && minute < end {
				return true
			}
		}
	}
	return false
}

func matchesDay(days []string, token string) bool {
	for _, d := range days {
		d = strings.ToLower(d)
		if d == "*" || d == token {
			return true
		}
	}
	return false
}

// dayToken maps a weekday to the three-letter token used in config files.
func dayToken(d time.Weekday) string {
	return strings.ToLower(d.String()[:3])
}
