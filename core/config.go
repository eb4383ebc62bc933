package core

import (
	"fmt"
	"strings"
	"time"
)

type DispatchConfig struct {
	MaxAttempts              int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff           time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff               time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	BatchSize                int           `koanf:"batch_size" mapstructure:"batch_size"`
	ProcessingLease          time.Duration `koanf:"processing_lease" mapstructure:"processing_lease"`
	TestimonialReminderDelay time.Duration `koanf:"testimonial_reminder_delay" mapstructure:"testimonial_reminder_delay"`
}

type SettingsConfig struct {
	CacheTTL time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
}

type ConflictConfig struct {
	MaxRetries int `koanf:"max_retries" mapstructure:"max_retries"`
}

type WorkerConfig struct {
	Concurrency  int           `koanf:"concurrency" mapstructure:"concurrency"`
	PollInterval time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
}

type DatabaseConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	Server      string        `koanf:"server" mapstructure:"server"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
}

func (c DatabaseConfig) GetDebug() bool {
	return c.Debug
}

func (c DatabaseConfig) GetDriver() string {
	return c.Driver
}

func (c DatabaseConfig) GetServer() string {
	return c.Server
}

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	return c.PingTimeout
}

func (c DatabaseConfig) GetOtelIdentifier() string {
	return ""
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Dispatch    DispatchConfig `koanf:"dispatch" mapstructure:"dispatch"`
	Settings    SettingsConfig `koanf:"settings" mapstructure:"settings"`
	Conflict    ConflictConfig `koanf:"conflict" mapstructure:"conflict"`
	Worker      WorkerConfig   `koanf:"worker" mapstructure:"worker"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "transactions",
		Dispatch: DispatchConfig{
			MaxAttempts:              5,
			InitialBackoff:           2 * time.Second,
			MaxBackoff:               5 * time.Minute,
			BatchSize:                50,
			ProcessingLease:          5 * time.Minute,
			TestimonialReminderDelay: 72 * time.Hour,
		},
		Settings: SettingsConfig{
			CacheTTL: time.Minute,
		},
		Conflict: ConflictConfig{
			MaxRetries: 3,
		},
		Worker: WorkerConfig{
			Concurrency:  4,
			PollInterval: time.Second,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			PingTimeout: 5 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("core: dispatch.max_attempts must be positive")
	}
	if c.Dispatch.InitialBackoff <= 0 || c.Dispatch.MaxBackoff < c.Dispatch.InitialBackoff {
		return fmt.Errorf("core: dispatch backoff is invalid")
	}
	if c.Settings.CacheTTL < 0 {
		return fmt.Errorf("core: settings.cache_ttl is invalid")
	}
	if c.Conflict.MaxRetries < 0 {
		return fmt.Errorf("core: conflict.max_retries is invalid")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("core: worker.concurrency must be positive")
	}
	return nil
}
