package scanner

import (
	"math/rand"
	"time"
)

// backoff computes the delay before retry attempt n (0-based): exponential
// from base with up to 50% jitter, capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	delay += jitter
	if delay > max {
		delay = max
	}
	return delay
}
