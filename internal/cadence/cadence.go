// Package cadence turns a replenishment's interval and unit into periods and payment dates.
package cadence

import (
	"time"

	"github.com/ErlanBelekov/replenishment/internal/domain"
)

const dayMillis int64 = 86_400_000

// PeriodMillis returns interval units in milliseconds. Months are a flat 30 days and years
// 365 days; custom is one second per interval and exists for tests and demos.
func PeriodMillis(interval int, unit domain.Unit) int64 {
	n := int64(interval)
	switch unit {
	case domain.UnitDay:
		return n * dayMillis
	case domain.UnitWeek:
		return n * 7 * dayMillis
	case domain.UnitMonth:
		return n * 30 * dayMillis
	case domain.UnitYear:
		return n * 365 * dayMillis
	case domain.UnitCustom:
		return n * 1000
	default:
		return 0
	}
}

func Period(interval int, unit domain.Unit) time.Duration {
	return time.Duration(PeriodMillis(interval, unit)) * time.Millisecond
}

// NextPaymentDate projects one period past last. A projection already behind now is
// clamped to now+period so a long pause does not fire a burst of catch-up charges.
// Returns nil when there is no previous payment to project from.
func NextPaymentDate(last *time.Time, period time.Duration, now time.Time) *time.Time {
	if last == nil {
		return nil
	}
	next := last.Add(period)
	if next.Before(now) {
		next = now.Add(period)
	}
	return &next
}

// FirstRun is the first firing of a schedule that has never charged: its start date when
// that is still ahead, otherwise one period from now.
func FirstRun(start time.Time, period time.Duration, now time.Time) time.Time {
	if start.After(now) {
		return start
	}
	return now.Add(period)
}

// Upcoming is NextPaymentDate falling back to FirstRun.
func Upcoming(last *time.Time, start time.Time, period time.Duration, now time.Time) time.Time {
	if next := NextPaymentDate(last, period, now); next != nil {
		return *next
	}
	return FirstRun(start, period, now)
}

// Valid reports whether interval and unit describe a usable cadence.
func Valid(interval int, unit domain.Unit) bool {
	return interval > 0 && unit.Valid()
}
