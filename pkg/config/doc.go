// Package config loads typed configuration from environment variables.
//
// Each package that needs configuration owns a struct with env and envDefault
// tags (queue.Config, email.Config, redis.Config, pg.Config,
// httpserver.Config). Binaries fill them with Load:
//
//	var mail email.Config
//	if err := config.Load(&mail); err != nil {
//		log.Fatal(err)
//	}
//
// Parsing is done by github.com/caarlos0/env/v11. A .env file in the working
// directory is read once through github.com/joho/godotenv; LoadEnv reads
// additional files explicitly. Structs implementing Validator are checked
// after parsing, and Load leaves the target untouched on any error.
//
// Errors can be matched with errors.Is against ErrParsingConfig,
// ErrInvalidConfig, ErrLoadingEnvFile and ErrNilPointer.
package config
