package withdrawal

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE PERIOD - Start + end of a requested or booked stay
// =============================================================================

// DatePeriod is an inclusive [Start, End] span of whole days, UTC.
type DatePeriod struct {
	Start time.Time
	End   time.Time
}

// NewDatePeriod builds a period from a start date and a duration in days.
// A one-day stay has duration 1 and Start == End.
func NewDatePeriod(start time.Time, durationDays int) DatePeriod {
	start = Day(start.Year(), start.Month(), start.Day())
	return DatePeriod{Start: start, End: start.AddDate(0, 0, durationDays-1)}
}

// Day truncates to a UTC calendar day.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Days returns the inclusive length of the period in days.
func (p DatePeriod) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

// Valid reports whether the period is well-formed.
func (p DatePeriod) Valid() bool {
	return !p.Start.IsZero() && !p.End.Before(p.Start)
}

// Contains reports whether t falls within [Start, End].
func (p DatePeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Overlaps reports whether two periods share at least one day.
func (p DatePeriod) Overlaps(other DatePeriod) bool {
	return !p.End.Before(other.Start) && !other.End.Before(p.Start)
}

func (p DatePeriod) String() string {
	return fmt.Sprintf("[%s, %s]", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
}
