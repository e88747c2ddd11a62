package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/learnhub/mailqueue/pkg/email"
	"github.com/learnhub/mailqueue/pkg/httpserver"
	"github.com/learnhub/mailqueue/pkg/logger"
	"github.com/learnhub/mailqueue/pkg/pg"
	"github.com/learnhub/mailqueue/pkg/queue"
	"github.com/learnhub/mailqueue/pkg/redis"
)

// Store drivers accepted by STORE_DRIVER.
const (
	storeRedis    = "redis"
	storePostgres = "postgres"
	storeMemory   = "memory"
)

type appConfig struct {
	StoreDriver    string        `env:"STORE_DRIVER" envDefault:"redis"`
	RedisKeyPrefix string        `env:"QUEUE_REDIS_PREFIX" envDefault:"{mailqueue}:"`
	ProductName    string        `env:"PRODUCT_NAME" envDefault:"LearnHub"`
	RunWorker      bool          `env:"RUN_WORKER" envDefault:"true"`
	VerifyTimeout  time.Duration `env:"MAIL_VERIFY_TIMEOUT" envDefault:"15s"`
	ReadyTimeout   time.Duration `env:"READY_CHECK_TIMEOUT" envDefault:"2s"`
}

func (c appConfig) Validate() error {
	switch c.StoreDriver {
	case storeRedis, storePostgres, storeMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of %s, %s, %s; got %q",
			storeRedis, storePostgres, storeMemory, c.StoreDriver)
	}
	if c.RedisKeyPrefix == "" {
		return errors.New("QUEUE_REDIS_PREFIX must not be empty")
	}
	return nil
}

// settings groups every package's env config.
type settings struct {
	App    appConfig
	Log    logger.Config
	Queue  queue.Config
	Mail   email.Config
	Redis  redis.Config
	PG     pg.Config
	Server httpserver.Config
}

func (s settings) Validate() error {
	return s.App.Validate()
}
