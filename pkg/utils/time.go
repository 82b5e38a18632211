package utils

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used in configuration and CLI flags
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date at midnight in loc (UTC when nil)
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// DaysBetween returns the number of whole calendar days from start to end
func DaysBetween(start, end time.Time) int {
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// AlignToInterval truncates t to the start of its interval, counted from the Unix epoch.
// With a 5 minute interval 14:03:27 becomes 14:00:00 and 14:07:56 becomes 14:05:00.
func AlignToInterval(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	secs := int64(interval / time.Second)
	if secs <= 0 {
		return t
	}
	unix := t.Unix()
	return time.Unix(unix-unix%secs, 0).In(t.Location())
}

// MsToTime converts epoch milliseconds to a UTC time
func MsToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.Round(time.Microsecond).String()
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	if d < time.Minute {
		return d.Round(10 * time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
