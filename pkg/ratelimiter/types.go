package ratelimiter

import "time"

// Result contains the outcome of a bucket operation.
type Result struct {
	Limit     int       // Bucket capacity
	Remaining int       // Tokens left; negative while the bucket is in debt
	ResetAt   time.Time // Next refill
}

// Allowed reports whether the bucket was not overdrawn.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// Available returns how many tokens can still be taken without going into debt.
func (r *Result) Available() int {
	return max(0, r.Remaining)
}

// RetryAfter returns how long to wait before tokens are available again.
func (r *Result) RetryAfter() time.Duration {
	if r.Remaining > 0 {
		return 0
	}
	return max(0, time.Until(r.ResetAt))
}

// Config defines the token bucket configuration.
type Config struct {
	Capacity       int           // Burst limit
	RefillRate     int           // Tokens added per interval
	RefillInterval time.Duration // How often tokens are added
}

// PerWindow returns a config admitting n operations per window with a burst of n.
func PerWindow(n int, window time.Duration) Config {
	return Config{
		Capacity:       n,
		RefillRate:     n,
		RefillInterval: window,
	}
}

// refill returns the token count after the intervals elapsed since lastRefill
// and the new refill timestamp.
func refill(tokens int, lastRefill, now time.Time, config Config) (int, time.Time) {
	elapsed := now.Sub(lastRefill)
	if elapsed < config.RefillInterval {
		return tokens, lastRefill
	}
	// Cap intervals to avoid overflow on long idle buckets
	maxIntervals := int64(config.Capacity/config.RefillRate + 1)
	intervals := int(min(int64(elapsed/config.RefillInterval), maxIntervals))
	tokens = min(tokens+intervals*config.RefillRate, config.Capacity)
	return tokens, now
}
