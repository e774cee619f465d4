package query

import "time"

// ExponentialBackoff returns base·2^attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		delay := base
		for i := 0; i < attempt; i++ {
			delay *= 2
			if delay >= max {
				return max
			}
		}
		if delay > max {
			return max
		}
		return delay
	}
}
