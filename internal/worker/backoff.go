package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

// ExponentialBackoff returns base*2^attempt capped at ceiling, plus up to 250ms
// of jitter so replicas do not retry in lockstep.
func ExponentialBackoff(attempt int, base, ceiling time.Duration) time.Duration {
	attempt = min(max(attempt, 0), 30)

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}

	return delay + time.Duration(rand.IntN(250))*time.Millisecond
}
