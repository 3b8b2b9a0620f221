// Package timeutil provides timezone-aware helpers for the platform's local time.
// Achievement rules such as early_bird and coding_streak are evaluated in this zone.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

var (
	mu       sync.RWMutex
	location = time.UTC
)

// SetLocation sets the platform zone. Call once at startup.
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	mu.Lock()
	location = loc
	mu.Unlock()
}

// LoadLocation resolves an IANA name and installs it as the platform zone.
func LoadLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	SetLocation(loc)
	return nil
}

// Location returns the platform zone.
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	return location
}

// Now returns the current time in the platform zone.
func Now() time.Time {
	return time.Now().In(Location())
}

// Local converts t into the platform zone.
func Local(t time.Time) time.Time {
	return t.In(Location())
}

// DateTime creates a time in the platform zone.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, Location())
}

// StartOfDay returns local midnight for t in the platform zone.
func StartOfDay(t time.Time) time.Time {
	return StartOfDayIn(Local(t))
}

// StartOfDayIn returns midnight of t's calendar day in t's own location.
func StartOfDayIn(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DateKey formats t's calendar day as YYYY-MM-DD in t's own location.
func DateKey(t time.Time) string {
	return t.Format(FormatDate)
}

// IsSameDay checks if two times are on the same day in the platform zone.
func IsSameDay(t1, t2 time.Time) bool {
	a1, a2 := Local(t1), Local(t2)
	return a1.Year() == a2.Year() && a1.YearDay() == a2.YearDay()
}

// DaysBetween calculates the number of whole days between two times.
func DaysBetween(t1, t2 time.Time) int {
	days := int(StartOfDay(t2).Sub(StartOfDay(t1)).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// IsWeekend checks if t falls on Saturday or Sunday in the platform zone.
func IsWeekend(t time.Time) bool {
	wd := Local(t).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Common layouts.
const (
	FormatDate     = "2006-01-02"
	FormatDateTime = "2006-01-02 15:04:05"
)

// FormatRelative renders a short "x ago" label for dashboards.
func FormatRelative(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return pluralize(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return pluralize(int(d.Hours()), "hour")
	default:
		return pluralize(DaysBetween(t, time.Now()), "day")
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
