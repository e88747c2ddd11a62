package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment names accepted by WithEnvironment.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config is the env-driven logger setup used by binaries.
type Config struct {
	Env     string `env:"APP_ENV" envDefault:"development"`
	Service string `env:"SERVICE_NAME" envDefault:"mailqueue"`
	Level   string `env:"LOG_LEVEL"`  // overrides the environment preset when set
	Format  string `env:"LOG_FORMAT"` // json or text; overrides the preset when set
}

// NewFromConfig builds a logger from the environment preset, then applies the
// explicit level and format overrides.
func NewFromConfig(cfg Config, opts ...Option) (*slog.Logger, error) {
	all := []Option{WithEnvironment(cfg.Env, cfg.Service)}

	if cfg.Level != "" {
		level, err := ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		all = append(all, WithLevel(level))
	}
	switch Format(strings.ToLower(cfg.Format)) {
	case "":
	case FormatJSON:
		all = append(all, WithJSONFormatter())
	case FormatText:
		all = append(all, WithTextFormatter())
	default:
		return nil, fmt.Errorf("invalid log format %q: must be %q or %q", cfg.Format, FormatJSON, FormatText)
	}

	return New(append(all, opts...)...), nil
}

// ParseLevel accepts debug, info, warn or error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Format represents logger output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Option configures logger creation.
type Option func(*config)

func WithLevel(l slog.Level) Option {
	return func(c *config) { c.level = l }
}

func WithTextFormatter() Option {
	return func(c *config) {
		c.format = FormatText
	}
}

func WithJSONFormatter() Option {
	return func(c *config) {
		c.format = FormatJSON
	}
}

// WithOutput sets the destination writer. Nil is ignored.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithEnvironment applies the preset for an APP_ENV value: text at debug for
// development, JSON at info for staging and production. Unknown values fall
// back to development. Every record is tagged with service and env.
func WithEnvironment(env string, service string) Option {
	return func(c *config) {
		switch env {
		case EnvProduction, "prod":
			env = EnvProduction
		case EnvStaging, "stage":
			env = EnvStaging
		default:
			env = EnvDevelopment
		}

		c.level, c.format = slog.LevelInfo, FormatJSON
		if env == EnvDevelopment {
			c.level, c.format = slog.LevelDebug, FormatText
		}
		if service != "" {
			c.attrs = append(c.attrs, slog.String("service", service))
		}
		c.attrs = append(c.attrs, slog.String("env", env))
	}
}

func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

type config struct {
	level  slog.Level
	format Format
	output io.Writer
	attrs  []slog.Attr
}

func defaultConfig() *config {
	return &config{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
}

// New builds a *slog.Logger. Without options it writes JSON at info level to
// stdout. Attrs stored with ContextWithAttrs reach every record.
func New(opts ...Option) *slog.Logger {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}

	var handler slog.Handler
	if cfg.format == FormatText {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	}

	if len(cfg.attrs) > 0 {
		handler = handler.WithAttrs(cfg.attrs)
	}

	return slog.New(contextHandler{next: handler})
}
