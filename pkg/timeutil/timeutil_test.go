package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationHelpers(t *testing.T) {
	zone := time.FixedZone("UTC+5", 5*60*60)
	SetLocation(zone)
	t.Cleanup(func() { SetLocation(time.UTC) })

	// 20:30 UTC is 01:30 the next day at UTC+5.
	utc := time.Date(2024, 3, 1, 20, 30, 0, 0, time.UTC)
	start := StartOfDay(utc)
	assert.Equal(t, 2, start.Day())
	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, "2024-03-02", DateKey(Local(utc)))

	assert.True(t, IsSameDay(utc, time.Date(2024, 3, 2, 10, 0, 0, 0, zone)))
	assert.Equal(t, 3, DaysBetween(utc, time.Date(2024, 3, 5, 12, 0, 0, 0, zone)))
}

func TestIsWeekend(t *testing.T) {
	SetLocation(time.UTC)
	assert.True(t, IsWeekend(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))  // Saturday
	assert.True(t, IsWeekend(time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)))  // Sunday
	assert.False(t, IsWeekend(time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC))) // Monday
}

func TestLoadLocation(t *testing.T) {
	t.Cleanup(func() { SetLocation(time.UTC) })
	require.Error(t, LoadLocation("Not/AZone"))
	assert.Equal(t, time.UTC, Location())
}

func TestFormatRelative(t *testing.T) {
	assert.Equal(t, "just now", FormatRelative(time.Now()))
	assert.Equal(t, "5 minutes ago", FormatRelative(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "1 hour ago", FormatRelative(time.Now().Add(-61*time.Minute)))
}
