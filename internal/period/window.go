// Package period computes the boundaries of consecutive classification windows.
package period

import (
	"time"

	"github.com/pbaille/pulse/internal/domain"
)

// DefaultGrace is how late a window may close and still be continued by the next one
const DefaultGrace = 5 * time.Second

// Phase tells how a window relates to the previous one
type Phase int

const (
	// NoPriorWindow: nothing was classified yet
	NoPriorWindow Phase = iota
	// Continuing: the window starts exactly where the previous one ended
	Continuing
	// GapDetected: the previous window ended too long ago, or lies in the
	// future after the clock stepped back; start fresh from now
	GapDetected
)

func (p Phase) String() string {
	switch p {
	case NoPriorWindow:
		return "no_prior_window"
	case Continuing:
		return "continuing"
	case GapDetected:
		return "gap_detected"
	default:
		return "unknown"
	}
}

// Next returns the window to classify at now, given the end of the previous
// window (nil when there is none).
//
// A previous window whose end plus grace lies after now-interval is
// continued: [prevEnd, prevEnd+interval). Otherwise, and when there is no
// previous window, the window is [now-interval, now). A previous end more
// than grace after now means the wall clock went backwards; it is treated as
// a gap so windows stop running ahead of the clock.
func Next(prevEnd *time.Time, now time.Time, interval, grace time.Duration) (domain.Window, Phase) {
	fresh := domain.Window{Start: now.Add(-interval), End: now}
	if prevEnd == nil {
		return fresh, NoPriorWindow
	}
	if prevEnd.After(now.Add(grace)) {
		return fresh, GapDetected
	}
	if prevEnd.Add(grace).After(now.Add(-interval)) {
		return domain.Window{Start: *prevEnd, End: prevEnd.Add(interval)}, Continuing
	}
	return fresh, GapDetected
}
