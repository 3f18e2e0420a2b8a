package transport

import (
	"math"
	"math/rand"
	"time"
)

// reconnector tracks reconnect attempts and computes exponential backoff with
// jitter. The attempt counter resets once a connection has stayed up long
// enough to be considered stable.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int // 0 = unlimited
	attempt     int
	connectedAt time.Time
}

const stableConnAge = 60 * time.Second

func newReconnector(base, max time.Duration, maxAttempts int) *reconnector {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &reconnector{baseDelay: base, maxDelay: max, maxAttempts: maxAttempts}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > stableConnAge {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
