package stream

import "time"

// shouldFlushNow reports whether an edit may go out immediately, given the
// time of the last flush and the minimum interval between edits. The first
// flush of a session is always allowed.
func shouldFlushNow(now, lastFlush time.Time, interval time.Duration) bool {
	if lastFlush.IsZero() {
		return true
	}
	return now.Sub(lastFlush) >= interval
}

// trailingDelay returns how long to wait before a deferred flush may run.
func trailingDelay(now, lastFlush time.Time, interval time.Duration) time.Duration {
	d := interval - now.Sub(lastFlush)
	if d < 0 {
		return 0
	}
	return d
}
