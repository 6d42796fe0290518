package scheduler

import (
	"time"

	"github.com/smallbiznis/contentfin/internal/config"
)

const (
	JobRecomputeDrain = "recompute_drain"
	JobRecoverySweep  = "recovery_sweep"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	JobTimeout        time.Duration
	RecoveryThreshold time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         25,
		JobTimeout:        5 * time.Minute,
		RecoveryThreshold: 15 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:       cfg.SchedulerInterval,
		BatchSize:         cfg.SchedulerBatchSize,
		JobTimeout:        cfg.SchedulerJobTimeout,
		RecoveryThreshold: cfg.SchedulerRecoveryThreshold,
		EnabledJobs:       cfg.SchedulerEnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	return c
}
