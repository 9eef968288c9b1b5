package framesync

// Constants from spec.md §6's recommended values, grounded on fillet.c's
// literal 8589934592 (2^33) and 4294967296 (2^32) constants.
const (
	overflowEpoch     int64 = 1 << 33 // 8589934592: 33-bit timestamp space
	overflowThreshold int64 = 1 << 32 // 4294967296: half the epoch
	discontThreshold  int64 = 60000   // ticks; ~0.67s at 90kHz
)

// clockState is the Normalized Clock (component A) accumulator for a single
// timestamp sequence (one per video stream, one per audio sub-stream).
type clockState struct {
	overflow int64
	last     int64 // NoTimestamp until the first sample is seen
}

func newClockState() clockState {
	return clockState{last: NoTimestamp}
}

// normalize implements spec.md §4.A: it folds a raw 33-bit timestamp into
// the accumulator's 64-bit monotonic space, detecting genuine wraparound
// (epoch rollover) separately from an out-of-range discontinuity. The
// asymmetric guard (delta very negative AND the last value already past the
// threshold) is what lets a real wrap be told apart from a stream restart
// or a scrambled timestamp landing far in the past.
func (cs *clockState) normalize(raw int64) (full int64, discontinuity bool) {
	if cs.last == NoTimestamp {
		cs.last = raw + cs.overflow
		return cs.last, false
	}

	delta := raw + cs.overflow - cs.last
	modOverflow := cs.last % overflowEpoch

	switch {
	case delta < -overflowThreshold && modOverflow > overflowThreshold:
		cs.overflow += overflowEpoch
	case delta < 0 || delta > discontThreshold:
		discontinuity = true
	}

	full = raw + cs.overflow
	cs.last = full
	return full, discontinuity
}
