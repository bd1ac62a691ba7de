package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePlanning(); err != nil {
		return err
	}
	if err := c.validateEncode(); err != nil {
		return err
	}
	if err := c.validateExecution(); err != nil {
		return err
	}
	if c.Cache.MaxAgeDays < 0 {
		return errors.New("cache.max_age_days must be zero (keep forever) or positive")
	}
	return c.validateLogging()
}

func (c *Config) validatePlanning() error {
	if c.Planning.EpsilonFactor <= 0 || c.Planning.EpsilonFactor > 1 {
		return fmt.Errorf("planning.epsilon_factor must be in (0, 1]; got %v", c.Planning.EpsilonFactor)
	}
	if c.Planning.ToleranceFactor <= 0 {
		return fmt.Errorf("planning.tolerance_factor must be positive; got %v", c.Planning.ToleranceFactor)
	}
	return nil
}

func (c *Config) validateEncode() error {
	if c.Encode.CRF < 0 || c.Encode.CRF > 63 {
		return fmt.Errorf("encode.crf must be between 0 and 63; got %d", c.Encode.CRF)
	}
	return nil
}

func (c *Config) validateExecution() error {
	if c.Execution.MaxParallel < 1 {
		return errors.New("execution.max_parallel must be at least 1")
	}
	if c.Execution.TimeoutSeconds < 0 {
		return errors.New("execution.timeout_seconds must be zero (no limit) or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	if !slices.Contains([]string{"auto", "json", "text", "console"}, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of auto, json, text, console; got %q", c.Logging.Format)
	}
	return nil
}
