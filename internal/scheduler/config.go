package scheduler

import (
	"errors"
	"time"

	"github.com/smallbiznis/meterline/internal/config"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependencies")

// Config controls the rollover sweep cadence and retry policy.
type Config struct {
	RunInterval  time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  24 * time.Hour,
		BatchSize:    50,
		MaxAttempts:  3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	return c
}

// ProvideConfig derives the scheduler config from app configuration.
func ProvideConfig(appCfg config.Config) Config {
	return Config{
		RunInterval: appCfg.SchedulerRunInterval,
		BatchSize:   appCfg.SchedulerBatchSize,
	}.withDefaults()
}
