package worker

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff returns the delay before retry number attempt, starting
// at base and capped at capDelay, plus up to 250ms of jitter.
func ExponentialBackoff(attempt int, base, capDelay time.Duration) time.Duration {
	// attempt=0 => base
	// attempt=1 => 2*base
	// attempt=2 => 4*base
	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay || delay <= 0 {
		delay = capDelay
	}

	// small jitter to avoid thundering herd
	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
