// Package ratelimiter provides a token bucket limiter with in-memory and Redis
// storage.
//
// Buckets allow a burst up to Capacity and refill RefillRate tokens every
// RefillInterval. AllowN may overdraw the bucket; the debt is repaid by later
// refills, so callers that know how much they spent after the fact (the queue
// worker claims first, then pays for what it got) stay within the long-run rate.
//
// # Usage
//
//	store := ratelimiter.NewMemoryStore()
//	defer store.Close()
//
//	limiter, err := ratelimiter.NewBucket(store, ratelimiter.PerWindow(10, time.Second))
//	if err != nil {
//		return err
//	}
//
//	status, err := limiter.Status(ctx, "smtp")
//	if err != nil {
//		return err
//	}
//	n := min(status.Available(), wanted)
//	// ... do n units of work ...
//	_, err = limiter.AllowN(ctx, "smtp", n)
//
// Use NewRedisStore to share one budget across several processes.
package ratelimiter
