// Package tracker maintains the real-time frequency counters and recent
// transaction patterns the rule evaluators consume. State lives in the
// key-value cache store and is scoped to fixed time buckets.
package tracker

import (
	"fmt"
	"time"
)

// Window is a named time granularity for frequency accounting.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
	WindowWeek   Window = "week"
	WindowMonth  Window = "month"
)

// ParseWindow validates a window string coming from rule parameters.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case WindowMinute, WindowHour, WindowDay, WindowWeek, WindowMonth:
		return Window(s), nil
	default:
		return "", fmt.Errorf("tracker: unknown time window %q", s)
	}
}

// Duration returns the nominal span of the window. Months are normalized
// to 30 days; the bucket key is what actually delimits a month.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// TTL is the cache expiry applied to window-scoped keys. Roughly twice the
// nominal duration so reads near a bucket boundary still see the data.
func (w Window) TTL() time.Duration {
	return 2 * w.Duration()
}

// Bucket derives the fixed-window bucket label for a timestamp by truncating
// it to the window's granularity. Two timestamps share a bucket iff they fall
// in the same calendar interval; counts reset at every boundary. This is a
// deliberate fixed-window approximation, not a sliding window: a burst that
// straddles a boundary is split across two buckets and under-counted.
func (w Window) Bucket(t time.Time) string {
	t = t.UTC()
	switch w {
	case WindowMinute:
		return t.Format("200601021504")
	case WindowHour:
		return t.Format("2006010215")
	case WindowDay:
		return t.Format("20060102")
	case WindowWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04dW%02d", year, week)
	case WindowMonth:
		return t.Format("200601")
	default:
		return t.Format("2006010215")
	}
}
