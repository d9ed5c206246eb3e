package common

import (
	"fmt"
	"math"

	coreerrors "localmoney/core/errors"
)

// SecondsPerDay is the width of a rate limit window.
const SecondsPerDay int64 = 86_400

// DailyCounter captures the usage of one action by one actor within a day
// window.
type DailyCounter struct {
	Day   uint64
	Count uint32
}

// DailyWindow returns the day index for a unix timestamp.
func DailyWindow(now int64) uint64 {
	if now <= 0 {
		return 0
	}
	return uint64(now / SecondsPerDay)
}

// CheckDaily verifies that one more action fits within the daily cap. Counters
// from a previous day are discarded implicitly. A zero cap disables the limit.
// On denial the previous counter is returned unchanged.
func CheckDaily(limit uint32, now int64, prev DailyCounter) (DailyCounter, error) {
	day := DailyWindow(now)
	next := prev
	if prev.Day != day {
		next = DailyCounter{Day: day}
	}
	if next.Count == math.MaxUint32 {
		return prev, fmt.Errorf("%w: daily counter", coreerrors.ErrArithmeticOverflow)
	}
	next.Count++
	if limit > 0 && next.Count > limit {
		return prev, fmt.Errorf("%w: %d actions per day", coreerrors.ErrRateLimitExceeded, limit)
	}
	return next, nil
}
