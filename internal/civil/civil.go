package civil

import (
	"time"
)

// Calendar converts timestamps into one fixed civil timezone and derives the
// day and month boundaries every "same day" comparison routes through.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar creates a calendar pinned to the named timezone.
func NewCalendar(tz string) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	return &Calendar{loc: loc, now: time.Now}, nil
}

// NewCalendarAt is like NewCalendar with an injectable clock, for tests.
func NewCalendarAt(loc *time.Location, now func() time.Time) *Calendar {
	return &Calendar{loc: loc, now: now}
}

// Location returns the configured timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Now returns the current time in the configured timezone.
func (c *Calendar) Now() time.Time { return c.now().In(c.loc) }

// StartOfDay returns midnight of t's civil day.
func (c *Calendar) StartOfDay(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// EndOfDay returns the last nanosecond of t's civil day.
func (c *Calendar) EndOfDay(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// StartOfMonth returns midnight of the first day of t's civil month.
func (c *Calendar) StartOfMonth(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, c.loc)
}

// EndOfMonth returns the last nanosecond of t's civil month.
func (c *Calendar) EndOfMonth(t time.Time) time.Time {
	return c.StartOfMonth(t).AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// DayOf returns t's civil-day key in YYYY-MM-DD form. The same key feeds the
// duplicate pre-check, the unique indexes and the statistics grouping.
func (c *Calendar) DayOf(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// SameDay reports whether a and b fall on the same civil day.
func (c *Calendar) SameDay(a, b time.Time) bool {
	return c.DayOf(a) == c.DayOf(b)
}
