// Package calendar provides timezone-safe calendar-day values.
// A Day is a time.Time truncated to midnight UTC, so equality and
// arithmetic on days reduce to plain comparisons regardless of the
// timezone the source timestamp carried.
package calendar

import (
	"errors"
	"time"
)

const DayFormat = "2006-01-02"

// Formats accepted from the remote store, longest first.
var parseFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05.999Z07:00",
	"2006-01-02 15:04:05",
	DayFormat,
}

var ErrUnparsableDate = errors.New("unparsable date value")

// Day is a calendar day at UTC-midnight granularity. The zero value is
// no day at all. Day is comparable and usable as a map key as long as
// values are produced by this package.
type Day struct {
	t time.Time
}

// Normalize truncates t to its UTC calendar day, discarding time-of-day.
// Idempotent: Normalize(d.Time()) == d for any Day d.
func Normalize(t time.Time) Day {
	u := t.UTC()
	return Day{t: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
}

// Parse normalizes a date string from the store. Accepts date-only
// strings as well as full timestamps.
func Parse(value string) (Day, error) {
	for _, format := range parseFormats {
		if t, err := time.Parse(format, value); err == nil {
			return Normalize(t), nil
		}
	}
	return Day{}, ErrUnparsableDate
}

func Today() Day {
	return Normalize(time.Now())
}

func Yesterday() Day {
	return Today().AddDays(-1)
}

func SameDay(a, b Day) bool {
	return a == b
}

// DayDifference returns the signed number of calendar days from a to b.
func DayDifference(a, b Day) int {
	return int(b.t.Sub(a.t) / (24 * time.Hour))
}

// LastNDays returns the n calendar days ending at today, oldest first,
// today inclusive. Pure function of n and the current day.
func LastNDays(n int) []Day {
	if n <= 0 {
		return nil
	}
	days := make([]Day, n)
	today := Today()
	for i := 0; i < n; i++ {
		days[i] = today.AddDays(i - n + 1)
	}
	return days
}

func (d Day) AddDays(n int) Day {
	return Normalize(d.t.AddDate(0, 0, n))
}

func (d Day) Before(other Day) bool {
	return d.t.Before(other.t)
}

func (d Day) After(other Day) bool {
	return d.t.After(other.t)
}

func (d Day) IsZero() bool {
	return d.t.IsZero()
}

// Time exposes the underlying UTC-midnight instant.
func (d Day) Time() time.Time {
	return d.t
}

func (d Day) String() string {
	return d.t.Format(DayFormat)
}

func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Day) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return ErrUnparsableDate
	}
	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
