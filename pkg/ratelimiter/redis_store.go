package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript refills and debits a bucket hash in one round trip.
// KEYS[1] bucket key
// ARGV capacity, refill rate, refill interval ms, now ms, tokens, ttl ms
var consumeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local take = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now
end

local elapsed = now - last
if elapsed >= interval then
	local intervals = math.floor(elapsed / interval)
	local cap = math.floor(capacity / rate) + 1
	if intervals > cap then
		intervals = cap
	end
	tokens = math.min(tokens + intervals * rate, capacity)
	last = now
end

tokens = tokens - take
redis.call('HSET', KEYS[1], 'tokens', tokens, 'last', last)
redis.call('PEXPIRE', KEYS[1], ttl)
return {tokens, last}
`)

// RedisStore shares buckets between processes through Redis.
// Every worker process pointed at the same key draws from one budget.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix namespaces bucket keys. Defaults to "ratelimit:".
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(rs *RedisStore) {
		rs.prefix = prefix
	}
}

// WithRedisClock overrides the time source sent to the script.
func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(rs *RedisStore) {
		if now != nil {
			rs.now = now
		}
	}
}

// NewRedisStore creates a Redis backed store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}

	rs := &RedisStore{
		client: client,
		prefix: "ratelimit:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(rs)
	}

	return rs, nil
}

// ConsumeTokens implements Store.
func (rs *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (int, time.Time, error) {
	intervalMs := max(config.RefillInterval.Milliseconds(), 1)
	ttl := intervalMs * int64(config.Capacity/config.RefillRate+1) * 2

	res, err := consumeScript.Run(ctx, rs.client, []string{rs.prefix + key},
		config.Capacity,
		config.RefillRate,
		intervalMs,
		rs.now().UnixMilli(),
		tokens,
		ttl,
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}

	lastRefill := time.UnixMilli(res[1])
	return int(res[0]), lastRefill.Add(config.RefillInterval), nil
}

// Reset implements Store.
func (rs *RedisStore) Reset(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.prefix+key).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
