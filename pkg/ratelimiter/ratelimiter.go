package ratelimiter

import (
	"context"
	"fmt"
)

// Limiter is what the queue worker needs from a rate limiter: a way to look at
// the budget and a way to spend it.
type Limiter interface {
	Status(ctx context.Context, key string) (*Result, error)
	AllowN(ctx context.Context, key string, n int) (*Result, error)
}

// Bucket implements a token bucket rate limiter over a Store.
type Bucket struct {
	store  Store
	config Config
}

var _ Limiter = (*Bucket)(nil)

// NewBucket creates a new token bucket rate limiter.
func NewBucket(store Store, config Config) (*Bucket, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &Bucket{
		store:  store,
		config: config,
	}, nil
}

// Config returns the bucket configuration.
func (tb *Bucket) Config() Config {
	return tb.config
}

func (tb *Bucket) Allow(ctx context.Context, key string) (*Result, error) {
	return tb.AllowN(ctx, key, 1)
}

// AllowN takes n tokens. The bucket may go into debt; the debt is repaid by
// later refills before anything else is admitted.
func (tb *Bucket) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: must be positive, got %d", ErrInvalidTokenCount, n)
	}
	return tb.consume(ctx, key, n)
}

// Status returns the current state without consuming tokens.
func (tb *Bucket) Status(ctx context.Context, key string) (*Result, error) {
	return tb.consume(ctx, key, 0)
}

func (tb *Bucket) Reset(ctx context.Context, key string) error {
	return tb.store.Reset(ctx, key)
}

func (tb *Bucket) consume(ctx context.Context, key string, n int) (*Result, error) {
	remaining, resetAt, err := tb.store.ConsumeTokens(ctx, key, n, tb.config)
	if err != nil {
		return nil, err
	}

	return &Result{
		Limit:     tb.config.Capacity,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("%w: refill rate must be positive, got %d", ErrInvalidConfig, c.RefillRate)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill interval must be positive, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}
