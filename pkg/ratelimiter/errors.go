package ratelimiter

import "errors"

var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidTokenCount indicates that the requested token count is invalid.
	ErrInvalidTokenCount = errors.New("invalid token count")

	// ErrStoreUnavailable indicates that the store backend is unavailable.
	ErrStoreUnavailable = errors.New("rate limiter store unavailable")
)
