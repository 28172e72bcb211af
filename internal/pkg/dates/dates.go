// Package dates models calendar dates and half-open stay ranges.
package dates

import (
	"fmt"
	"time"
)

// Layout is the wire and storage format of a calendar date.
const Layout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Parse parses a YYYY-MM-DD string into a UTC midnight time.
func Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// DaysBetween returns the number of calendar days from a to b.
// It counts on Unix seconds so spans beyond time.Duration's range stay exact.
func DaysBetween(a, b time.Time) int {
	return int((Day(b).Unix() - Day(a).Unix()) / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60

// Range is a half-open interval of nights [CheckIn, CheckOut).
type Range struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// NewRange normalises both ends to calendar days. It does not validate ordering.
func NewRange(checkIn, checkOut time.Time) Range {
	return Range{CheckIn: Day(checkIn), CheckOut: Day(checkOut)}
}

// ParseRange parses both ends of a stay.
func ParseRange(checkIn, checkOut string) (Range, error) {
	in, err := Parse(checkIn)
	if err != nil {
		return Range{}, err
	}
	out, err := Parse(checkOut)
	if err != nil {
		return Range{}, err
	}
	return Range{CheckIn: in, CheckOut: out}, nil
}

// Valid reports whether the range covers at least one night.
func (r Range) Valid() bool {
	return r.CheckIn.Before(r.CheckOut)
}

// Nights is the number of nights in the range.
func (r Range) Nights() int {
	return DaysBetween(r.CheckIn, r.CheckOut)
}

// Overlaps reports whether r and o share a night. Touching ranges do not overlap:
// a check-out on day X and a check-in on day X are compatible.
func (r Range) Overlaps(o Range) bool {
	return r.CheckIn.Before(o.CheckOut) && o.CheckIn.Before(r.CheckOut)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", Format(r.CheckIn), Format(r.CheckOut))
}
