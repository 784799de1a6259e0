package ledger

import (
	"fmt"
	"time"
)

// DateLayout is the ISO-8601 calendar date format used on the wire and in keys.
const DateLayout = "2006-01-02"

// ParseDate parses an ISO-8601 calendar date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// Normalize drops the time of day, keeping the calendar date in UTC.
func Normalize(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EachDay calls fn for every date from start to end inclusive and stops at the
// first error. It calls fn zero times when end is before start.
func EachDay(start, end time.Time, fn func(time.Time) error) error {
	start, end = Normalize(start), Normalize(end)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// DaysBetween returns the inclusive day count, or 0 when end is before start.
func DaysBetween(start, end time.Time) int {
	start, end = Normalize(start), Normalize(end)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}
