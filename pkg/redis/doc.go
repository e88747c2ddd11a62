// Package redis connects to Redis for the job store and the shared claim rate
// limiter.
//
// Config is populated from environment variables via github.com/caarlos0/env.
// Either REDIS_URL or the discrete REDIS_HOST/REDIS_PORT/REDIS_USERNAME/
// REDIS_PASSWORD/REDIS_DB/REDIS_TLS variables describe the server.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	check := redis.Healthcheck(client)
//	if err := check(ctx); err != nil {
//		// not reachable
//	}
//
// Errors wrap the go-redis cause with errors.Join, so both the sentinel and the
// driver error can be matched.
package redis
