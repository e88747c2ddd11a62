package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options converts the config into go-redis client options.
func (cfg Config) Options() (*redis.Options, error) {
	if cfg.ConnectionURL != "" {
		opts, err := redis.ParseURL(cfg.ConnectionURL)
		if err != nil {
			return nil, errors.Join(ErrFailedToParseRedisConnString, err)
		}
		return opts, nil
	}

	if cfg.Host == "" {
		return nil, ErrEmptyConnectionURL
	}

	opts := &redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.Host,
		}
	}
	return opts, nil
}

// Connect opens a client and pings it, retrying RetryAttempts times with
// RetryInterval between attempts, all within ConnectTimeout.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var lastErr error
	for range max(cfg.RetryAttempts, 1) {
		client := redis.NewClient(opts)

		lastErr = client.Ping(ctx).Err()
		if lastErr == nil {
			return client, nil
		}

		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrRedisNotReady, lastErr)
}
