package utils

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

// ParseDate reads a YYYY-MM-DD date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q, expected YYYY-MM-DD", ErrInvalidDate, s)
	}
	return t, nil
}

// DateOnly truncates t to midnight in loc.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// AddDays moves by calendar days, keeping wall-clock midnight across DST changes.
func AddDays(t time.Time, n int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+n, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Clock12 formats a time as the scheduling system's 12-hour clock, e.g. "09:00 AM".
func Clock12(t time.Time) string {
	return t.Format("03:04 PM")
}

// ParseClock12 returns minutes after midnight for an "hh:mm AM" string.
func ParseClock12(s string) (int, error) {
	t, err := time.Parse("3:04 PM", s)
	if err != nil {
		t, err = time.Parse("03:04PM", s)
		if err != nil {
			return 0, fmt.Errorf("invalid clock %q", s)
		}
	}
	return t.Hour()*60 + t.Minute(), nil
}
