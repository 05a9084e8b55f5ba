package timelapse

import (
	"fmt"
	"regexp"
	"time"
)

// DateLayout is the calendar-day format used in URLs and directory names.
const DateLayout = "2006-01-02"

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseDate parses a YYYY-MM-DD string as a UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	if !dateRe.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, use YYYY-MM-DD", ErrInvalidRequest, s)
	}
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, use YYYY-MM-DD", ErrInvalidRequest, s)
	}
	return d, nil
}

// FormatDate formats t as YYYY-MM-DD in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Day truncates t to its UTC calendar day; time-of-day is ignored.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EachDay calls fn for every calendar day from..to inclusive, ascending.
// It stops early when fn returns false.
func EachDay(from, to time.Time, fn func(day time.Time) bool) {
	end := Day(to)
	for d := Day(from); !d.After(end); d = d.AddDate(0, 0, 1) {
		if !fn(d) {
			return
		}
	}
}

// DaysBetween returns the number of whole days from from to to.
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}
