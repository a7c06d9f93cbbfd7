package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay bounds every Clock value; 24:00 is allowed as an end time.
const MinutesPerDay = 24 * 60

const DateLayout = "2006-01-02"

// Clock is a wall-clock time of day with minute precision, stored as minutes
// since midnight. No timezone is attached.
type Clock int

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock accepts "HH:MM" and "HH:MM:SS" (seconds must be zero).
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidInput, s)
	}
	if !digits(parts[0], 1, 2) || !digits(parts[1], 2, 2) {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidInput, s)
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	if m > 59 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidInput, s)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); !digits(parts[2], 2, 2) || err != nil || sec != 0 {
			return 0, fmt.Errorf("%w: time %q must have minute precision", ErrInvalidInput, s)
		}
	}
	c := NewClock(h, m)
	if c > MinutesPerDay {
		return 0, fmt.Errorf("%w: time %q is past the end of the day", ErrInvalidInput, s)
	}
	return c, nil
}

func digits(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ClockOf truncates t to the minute in t's own location.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) Add(minutes int) Clock { return c + Clock(minutes) }

// FitsDay reports whether a positive span of minutes starting at c ends by
// midnight. The comparison never adds, so huge spans cannot wrap.
func (c Clock) FitsDay(minutes int) bool {
	return c >= 0 && c <= MinutesPerDay && minutes > 0 && minutes <= MinutesPerDay-int(c)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseDate parses a calendar date (YYYY-MM-DD) into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, s)
	}
	return d, nil
}

// DateOf returns the calendar date of t, as seen in t's location, at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func SameDate(a, b time.Time) bool {
	return DateOf(a).Equal(DateOf(b))
}

func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// Interval is a half-open [Start, End) range of wall-clock minutes.
type Interval struct {
	Start Clock
	End   Clock
}

func (i Interval) Valid() bool { return i.Start < i.End }

func (i Interval) Minutes() int { return int(i.End - i.Start) }

// Overlaps is the half-open intersection test a.start < b.end && b.start < a.end.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return i.Start <= o.Start && o.End <= i.End
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}
