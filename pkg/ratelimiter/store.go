package ratelimiter

import (
	"context"
	"time"
)

// Store persists bucket state.
type Store interface {
	// ConsumeTokens refills the bucket and subtracts tokens.
	// Zero tokens only refills, which is how Status reads without consuming.
	// A negative remaining count means the bucket is in debt.
	ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (remaining int, resetAt time.Time, err error)

	// Reset clears the state for the given key.
	Reset(ctx context.Context, key string) error
}
