package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// Validator is implemented by config structs that check their own invariants
// after parsing, e.g. a driver name that selects which other fields are needed.
type Validator interface {
	Validate() error
}

// Option adjusts how Load parses the environment.
type Option func(*env.Options)

// WithPrefix only reads variables starting with prefix, e.g. "MAILQUEUE_".
func WithPrefix(prefix string) Option {
	return func(o *env.Options) {
		o.Prefix = prefix
	}
}

// WithEnvironment parses vars instead of the process environment.
func WithEnvironment(vars map[string]string) Option {
	return func(o *env.Options) {
		o.Environment = vars
	}
}

// WithRequiredIfNoDefault treats every field without envDefault as required.
func WithRequiredIfNoDefault() Option {
	return func(o *env.Options) {
		o.RequiredIfNoDef = true
	}
}

// Load parses environment variables into v using its env/envDefault tags.
//
// The .env file in the working directory is loaded once per process before the
// first parse, if it exists. Variables already set in the environment win over
// the file. When *T implements Validator, Validate runs after parsing.
//
//	var cfg queue.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T, opts ...Option) error {
	defaultEnvLoaded.Do(func() {
		// a missing .env is the normal case outside local development
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	var options env.Options
	for _, opt := range opts {
		opt(&options)
	}

	var parsed T
	if err := env.ParseWithOptions(&parsed, options); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	if val, ok := any(&parsed).(Validator); ok {
		if err := val.Validate(); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
	}

	*v = parsed
	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// LoadEnv loads the given .env files into the process environment without
// overriding variables that are already set. Unlike the implicit .env load in
// Load, a missing file is an error here.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}
