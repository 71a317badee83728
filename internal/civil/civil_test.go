package civil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wib = time.FixedZone("WIB", 7*3600)

func calAt(t time.Time) *Calendar {
	return NewCalendarAt(wib, func() time.Time { return t })
}

func TestDayBoundaries(t *testing.T) {
	noon := time.Date(2025, 3, 15, 12, 30, 45, 0, wib)
	cal := calAt(noon)

	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, wib), cal.StartOfDay(noon))
	assert.Equal(t, time.Date(2025, 3, 15, 23, 59, 59, int(time.Second-time.Nanosecond), wib), cal.EndOfDay(noon))
	assert.Equal(t, "2025-03-15", cal.DayOf(noon))
}

func TestMonthBoundaries(t *testing.T) {
	mid := time.Date(2025, 2, 10, 8, 0, 0, 0, wib)
	cal := calAt(mid)

	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, wib), cal.StartOfMonth(mid))
	// 2025 is not a leap year
	assert.Equal(t, "2025-02-28", cal.DayOf(cal.EndOfMonth(mid)))
}

func TestSameDayAcrossMidnight(t *testing.T) {
	cal := calAt(time.Now())

	lateNight := time.Date(2025, 3, 15, 23, 59, 59, 0, wib)
	justAfter := time.Date(2025, 3, 16, 0, 0, 1, 0, wib)
	assert.False(t, cal.SameDay(lateNight, justAfter))

	morning := time.Date(2025, 3, 15, 0, 0, 1, 0, wib)
	evening := time.Date(2025, 3, 15, 23, 59, 0, 0, wib)
	assert.True(t, cal.SameDay(morning, evening))
}

func TestDayOfConvertsForeignZones(t *testing.T) {
	cal := calAt(time.Now())

	// 20:00 UTC on the 15th is already the 16th in UTC+7.
	utcEvening := time.Date(2025, 3, 15, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-16", cal.DayOf(utcEvening))
}

func TestNowUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cal := calAt(fixed)

	now := cal.Now()
	require.Equal(t, fixed.Unix(), now.Unix())
	assert.Equal(t, wib.String(), now.Location().String())
}
