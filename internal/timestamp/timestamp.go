// Package timestamp turns track-relative offsets into calendar time.
package timestamp

import (
	"math"
	"time"
)

// Layout is ISO-8601 with milliseconds and an always-numeric offset.
const Layout = "2006-01-02T15:04:05.000-07:00"

// Absolute returns start + joinOffsetMs + segmentSeconds, rounded to the
// millisecond and expressed in loc. A nil loc keeps start's location.
// The result depends only on its inputs.
func Absolute(start time.Time, joinOffsetMs int64, segmentSeconds float64, loc *time.Location) time.Time {
	seg := time.Duration(math.Round(segmentSeconds * float64(time.Second)))
	t := start.Add(time.Duration(joinOffsetMs) * time.Millisecond).Add(seg).Round(time.Millisecond)
	if loc == nil {
		loc = start.Location()
	}
	return t.In(loc)
}

// Format renders t with Layout.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Parse reads a timestamp written by Format. RFC 3339 without fractional
// seconds is accepted as well.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err == nil {
		return t, nil
	}
	if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
		return t2, nil
	}
	return time.Time{}, err
}

// Reconstruct is Absolute followed by Format.
func Reconstruct(start time.Time, joinOffsetMs int64, segmentSeconds float64, loc *time.Location) string {
	return Format(Absolute(start, joinOffsetMs, segmentSeconds, loc))
}

// OffsetMs is the whole milliseconds elapsed from start to t.
func OffsetMs(start, t time.Time) int64 {
	return t.Sub(start).Milliseconds()
}
