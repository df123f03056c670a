// Package timestamp provides canonical millisecond timestamps for call
// records and event envelopes.
//
// Every time value that crosses a serialization boundary in this repo
// (journal rows, bridge envelopes, KV documents) is int64 milliseconds
// since the Unix epoch, UTC. A value of 0 means "not observed": a call
// that was never answered has AnsweredAt 0, not a 1970 date, and every
// function here treats 0 that way.
package timestamp

import "time"

// Now returns the current time in canonical milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to canonical milliseconds. The zero
// time maps to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ToTime converts canonical milliseconds back to a time.Time. 0 maps
// to the zero time.
func ToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Between returns the elapsed time from start to end. If either side
// was never observed the duration is 0.
func Between(start, end int64) time.Duration {
	if start == 0 || end == 0 {
		return 0
	}
	return time.UnixMilli(end).Sub(time.UnixMilli(start))
}

// Sub moves a timestamp back by d. 0 stays 0, so an unset timestamp
// never turns into a pre-epoch cutoff.
func Sub(ms int64, d time.Duration) int64 {
	if ms == 0 {
		return 0
	}
	return time.UnixMilli(ms).Add(-d).UnixMilli()
}
