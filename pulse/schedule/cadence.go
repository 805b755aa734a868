// Package schedule runs formula recomputes on their configured cadence.
// One job row per active, non-manual definition drives a ticker loop;
// an in-memory running guard keeps timer ticks and manual triggers from
// overlapping on the same definition.
package schedule

import (
	"time"

	"github.com/relata/tally/errors"
)

// Cadence names how often a formula recomputes.
type Cadence string

const (
	CadenceManual Cadence = "manual"
	CadenceHourly Cadence = "hourly"
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// ParseCadence validates a cadence string.
func ParseCadence(s string) (Cadence, error) {
	switch Cadence(s) {
	case CadenceManual, CadenceHourly, CadenceDaily, CadenceWeekly:
		return Cadence(s), nil
	default:
		return "", errors.Wrapf(errors.ErrInvalidSchedule, "unknown cadence %q", s)
	}
}

// Interval returns the recompute period. Manual cadence has no timer and
// returns zero.
func (c Cadence) Interval() time.Duration {
	switch c {
	case CadenceHourly:
		return time.Hour
	case CadenceDaily:
		return 24 * time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// IsManual reports whether the cadence is timerless.
func (c Cadence) IsManual() bool {
	return c == CadenceManual
}
