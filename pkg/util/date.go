package util

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used on the HTTP surface and in
// stored rows.
const DateLayout = "2006-01-02"

// ParseDate parses YYYY-MM-DD as midnight in loc. A nil loc means UTC.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// SinceMidnight is the wall-clock offset of t into its day in loc.
func SinceMidnight(t time.Time, loc *time.Location) time.Duration {
	return t.Sub(StartOfDay(t, loc))
}

// DayKey names t's calendar day in loc, e.g. 2024-03-15.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}
