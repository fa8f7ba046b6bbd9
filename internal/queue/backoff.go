package queue

import (
	"math/rand"
	"time"
)

// backoff computes the delay before the next send after failed attempt n
// (1-based): min(cap, base * 2^(n-1)) plus up to base of jitter, so
// synchronized clients do not stampede the server after an outage.
// With base=1s the schedule runs 1s, 2s, 4s, 8s, 16s (±jitter).
func backoff(base, max time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		d <<= 1
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	jitter := time.Duration(rng.Int63n(int64(base) + 1))
	return d + jitter
}
