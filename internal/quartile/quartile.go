// SPDX-License-Identifier: MIT

// Package quartile buckets a playback position into VAST progress
// quartiles. The classifier is pure and keeps no state; monotonicity
// guarantees (never re-fire, never regress) live with the caller.
package quartile

// Quartile identifies how far playback has progressed through a
// creative. The zero value means "not far enough to count".
type Quartile int

const (
	Unknown Quartile = iota
	Start
	First
	Second
	Third
	Complete
)

// epsilon guards the bucket boundaries against floating-point
// flapping when positions land exactly on a quartile edge.
const epsilon = 1e-6

// lessThan reports whether a is meaningfully below b, ignoring
// differences smaller than epsilon.
func lessThan(a, b float64) bool {
	return b-a > epsilon
}

// Classify buckets a playback position, both in milliseconds, into a
// quartile. A non-positive duration yields Unknown. Fractions past 1.0
// still classify as Third: an engine may report a position slightly
// beyond the duration just before the end-of-stream signal lands, and
// losing the thirdQuartile event there is worse than firing it a tick
// early. Complete is never returned; callers assert it on
// end-of-stream, not from position.
func Classify(positionMS, durationMS int64) Quartile {
	if durationMS <= 0 {
		return Unknown
	}
	fraction := float64(positionMS) / float64(durationMS)
	switch {
	case lessThan(fraction, 0.01):
		return Unknown
	case lessThan(fraction, 0.25):
		return Start
	case lessThan(fraction, 0.50):
		return First
	case lessThan(fraction, 0.75):
		return Second
	default:
		return Third
	}
}

// String returns the VAST tracking event name for the quartile.
func (q Quartile) String() string {
	switch q {
	case Start:
		return "start"
	case First:
		return "firstQuartile"
	case Second:
		return "midpoint"
	case Third:
		return "thirdQuartile"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}
