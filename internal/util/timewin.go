package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day (venue-local), minutes since midnight.
type Clock int

// ParseClock parses "HH:MM" into a Clock.
func ParseClock(s string) (Clock, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q: bad minute", s)
	}
	return Clock(h*60 + m), nil
}

// MustClock is ParseClock for compile-time-known constants; it panics on
// malformed input.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the clock as "HH:MM".
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// clockAt returns the venue-local minutes-since-midnight for a Unix ms
// timestamp. The offset is derived from loc at the instant itself, so DST
// transitions inside a session are handled correctly.
func clockAt(ts int64, loc *time.Location) Clock {
	t := time.UnixMilli(ts).In(loc)
	return Clock(t.Hour()*60 + t.Minute())
}

// InWindow reports whether ts (Unix ms) falls inside the venue-local
// half-open window [begin, end). Windows where begin > end cross midnight
// and match t >= begin || t < end.
func InWindow(ts int64, begin, end Clock, loc *time.Location) bool {
	c := clockAt(ts, loc)
	if begin > end {
		return c >= begin || c < end
	}
	return c >= begin && c < end
}

// AtOrAfter reports whether ts is at or past the venue-local clock time c.
func AtOrAfter(ts int64, c Clock, loc *time.Location) bool {
	return clockAt(ts, loc) >= c
}
