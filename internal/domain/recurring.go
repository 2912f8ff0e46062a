package domain

import (
	"fmt"
	"time"
)

// RecurringInterval is the closed set of supported recurrence periods.
type RecurringInterval string

const (
	IntervalDaily   RecurringInterval = "daily"
	IntervalWeekly  RecurringInterval = "weekly"
	IntervalMonthly RecurringInterval = "monthly"
	IntervalYearly  RecurringInterval = "yearly"
)

// ParseRecurringInterval converts a raw string into a RecurringInterval.
func ParseRecurringInterval(s string) (RecurringInterval, error) {
	switch RecurringInterval(s) {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return RecurringInterval(s), nil
	default:
		return "", fmt.Errorf("ParseRecurringInterval: unknown interval %q", s)
	}
}

// Describe returns a human-readable description of the interval.
func (i RecurringInterval) Describe() string {
	switch i {
	case IntervalDaily:
		return "Every day"
	case IntervalWeekly:
		return "Every week"
	case IntervalMonthly:
		return "Every month"
	case IntervalYearly:
		return "Every year"
	default:
		return string(i)
	}
}

// NextRecurringDate computes when a recurring transaction fires next, given
// the interval and a base date. The base date is normalized to the start of
// its calendar day (UTC) before one interval unit is added.
//
// Month and year arithmetic is calendar-aware: the result keeps the same
// day-of-month when it exists and otherwise clamps to the last valid day of
// the resulting month, so Jan 31 + 1 month is Feb 29 (leap) or Feb 28, never
// a silent rollover into March.
func NextRecurringDate(interval RecurringInterval, from time.Time) (time.Time, error) {
	base := StartOfDay(from)

	switch interval {
	case IntervalDaily:
		return base.AddDate(0, 0, 1), nil
	case IntervalWeekly:
		return base.AddDate(0, 0, 7), nil
	case IntervalMonthly:
		return addMonthsClamped(base, 1), nil
	case IntervalYearly:
		return addMonthsClamped(base, 12), nil
	default:
		return time.Time{}, fmt.Errorf("NextRecurringDate: unknown interval %q", interval)
	}
}

// StartOfDay truncates a timestamp to midnight UTC of its calendar day.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysUntil reports how many whole days remain until next, negative if
// overdue. Both timestamps are compared at start-of-day granularity.
func DaysUntil(next, now time.Time) int {
	diff := StartOfDay(next).Sub(StartOfDay(now))
	return int(diff / (24 * time.Hour))
}

// addMonthsClamped adds n calendar months, clamping the day-of-month to the
// last valid day of the target month. time.Time.AddDate is deliberately not
// used here: it normalizes Jan 31 + 1 month into March.
func addMonthsClamped(t time.Time, n int) time.Time {
	firstOfTarget := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()

	day := t.Day()
	if day > lastDay {
		day = lastDay
	}

	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, 0, 0, 0, 0, t.Location())
}
