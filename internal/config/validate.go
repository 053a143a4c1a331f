package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. Validation failures are fatal
// at process start; nothing else in the system treats configuration problems
// as per-item errors.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateStats(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateSource() error {
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return errors.New("source.base_url must be set")
	}
	if !strings.HasPrefix(c.Source.BaseURL, "http://") && !strings.HasPrefix(c.Source.BaseURL, "https://") {
		return fmt.Errorf("source.base_url must be an http(s) URL, got %q", c.Source.BaseURL)
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Discovery.Interval <= 0 {
		return errors.New("discovery.interval must be positive")
	}
	if c.Discovery.BatchSize <= 0 {
		return errors.New("discovery.batch_size must be positive")
	}
	if c.Download.Timeout <= 0 {
		return errors.New("download.timeout must be positive")
	}
	if c.Download.Concurrency <= 0 {
		return errors.New("download.concurrency must be positive")
	}
	if c.Parse.BatchSize <= 0 {
		return errors.New("parse.batch_size must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxRetries < 0 {
		return errors.New("queue.max_retries must not be negative")
	}
	if c.Queue.BackoffBase <= 0 {
		return errors.New("queue.backoff_base must be positive")
	}
	if c.Queue.BackoffCap < c.Queue.BackoffBase {
		return errors.New("queue.backoff_cap must be at least queue.backoff_base")
	}
	if c.Queue.LeaseTimeout <= 0 {
		return errors.New("queue.lease_timeout must be positive")
	}
	if c.Queue.PollInterval <= 0 {
		return errors.New("queue.poll_interval must be positive")
	}
	return nil
}

func (c *Config) validateStats() error {
	if c.Stats.Interval <= 0 {
		return errors.New("stats.interval must be positive")
	}
	if c.Stats.LookbackDays <= 0 {
		return errors.New("stats.lookback_days must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
