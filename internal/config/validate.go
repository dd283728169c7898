package config

import (
	"errors"
	"fmt"

	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateTasks(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.DataPath == "" {
		return errors.New("server.data_path must be set")
	}
	if c.Server.RequestsPerMinute < 0 {
		return errors.New("server.requests_per_minute must not be negative")
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.MaxEntries <= 0 {
		return errors.New("pipeline.max_entries must be positive")
	}
	if p.MaxLoad < 0 {
		return errors.New("pipeline.max_load must not be negative")
	}
	if p.ContextSize < 0 {
		return errors.New("pipeline.context_size must not be negative")
	}
	if p.Parallelism <= 0 {
		return errors.New("pipeline.parallelism must be positive")
	}
	if p.MaxAttempts <= 0 {
		return errors.New("pipeline.max_attempts must be positive")
	}
	if p.BaseDelayMillis < 0 || p.MaxDelaySeconds < 0 {
		return errors.New("pipeline retry delays must not be negative")
	}
	return nil
}

func (c *Config) validateTasks() error {
	if c.Tasks.MaxConcurrent <= 0 {
		return errors.New("tasks.max_concurrent must be positive")
	}
	if c.Tasks.RetentionMinutes <= 0 {
		return errors.New("tasks.retention_minutes must be positive")
	}
	if c.Tasks.HistoryRetentionDays < 0 {
		return errors.New("tasks.history_retention_days must not be negative")
	}
	return nil
}

func (c *Config) validateBackends() error {
	if c.Backends.RequestTimeoutSeconds <= 0 {
		return errors.New("backends.request_timeout_seconds must be positive")
	}
	if c.Backends.Default.Kind != "" && !knownKind(c.Backends.Default.Kind) {
		return fmt.Errorf("backends.default.kind %q is not a known adapter kind", c.Backends.Default.Kind)
	}
	for kind := range c.Backends.PerKind {
		if !knownKind(kind) {
			return fmt.Errorf("backends.per_kind.%s is not a known adapter kind", kind)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	return nil
}

func knownKind(kind string) bool {
	for _, k := range translate.Kinds {
		if string(k) == kind {
			return true
		}
	}
	return false
}
