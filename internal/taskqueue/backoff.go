package taskqueue

import "time"

// retryDelay returns the wait before the given retry attempt (1-based). The
// delay doubles per attempt from base and never exceeds cap, so the schedule
// is monotonically non-decreasing.
func retryDelay(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if cap > 0 && delay >= cap {
			return cap
		}
	}
	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}
