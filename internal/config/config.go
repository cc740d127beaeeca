package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/procpool/internal/command"
	"github.com/loykin/procpool/internal/env"
	"github.com/loykin/procpool/internal/logger"
	"github.com/loykin/procpool/internal/pool"
	"github.com/loykin/procpool/internal/scheduler"
	"github.com/spf13/viper"
)

// Config is the top-level TOML structure.
type Config struct {
	Commands []string `mapstructure:"commands"`
	WorkDir  string   `mapstructure:"workdir"`
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`

	Pool    PoolConfig    `mapstructure:"pool"`
	Log     logger.Config `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type PoolConfig struct {
	Capacity       int           `mapstructure:"capacity"`
	StrictCapacity bool          `mapstructure:"strict_capacity"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	QuotePolicy    string        `mapstructure:"quote_policy"`
	Quotes         string        `mapstructure:"quotes"`
}

// HistoryConfig selects an export sink for completion records.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Capacity:      pool.DefaultCapacity,
			SweepInterval: scheduler.DefaultInterval,
			QuotePolicy:   command.StripQuotes.String(),
		},
		Log:    logger.Config{Level: "info", Format: "text"},
		Server: ServerConfig{BasePath: "/api"},
	}
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("commands", d.Commands)
	v.SetDefault("workdir", d.WorkDir)
	v.SetDefault("env", d.Env)
	v.SetDefault("env_files", d.EnvFiles)
	v.SetDefault("use_os_env", d.UseOSEnv)

	v.SetDefault("pool.capacity", d.Pool.Capacity)
	v.SetDefault("pool.strict_capacity", d.Pool.StrictCapacity)
	v.SetDefault("pool.sweep_interval", d.Pool.SweepInterval)
	v.SetDefault("pool.sample_interval", d.Pool.SampleInterval)
	v.SetDefault("pool.quote_policy", d.Pool.QuotePolicy)
	v.SetDefault("pool.quotes", d.Pool.Quotes)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", d.Log.File.Compress)

	v.SetDefault("history.dsn", d.History.DSN)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// Load reads a TOML config file. Environment variables prefixed with
// PROCPOOL_ override file values (e.g. PROCPOOL_POOL_CAPACITY).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("procpool")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Pool.Capacity < 0 {
		return errors.New("pool.capacity must not be negative")
	}
	if c.Pool.SweepInterval < 0 {
		return errors.New("pool.sweep_interval must not be negative")
	}
	if c.Pool.SampleInterval < 0 {
		return errors.New("pool.sample_interval must not be negative")
	}
	if _, err := command.ParsePolicy(c.Pool.QuotePolicy); err != nil {
		return fmt.Errorf("pool.quote_policy: %w", err)
	}
	for i, raw := range c.Commands {
		if strings.TrimSpace(raw) == "" {
			return fmt.Errorf("commands[%d] is empty", i)
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Parser returns the command parser described by the pool section.
func (c *Config) Parser() command.Parser {
	policy, _ := command.ParsePolicy(c.Pool.QuotePolicy)
	return command.Parser{Policy: policy, Quotes: c.Pool.Quotes}
}

// ProcessEnv composes the environment for spawned programs: OS env when
// use_os_env is set, then env_files in order, then env. It returns nil
// when nothing is configured so children inherit procpool's environment.
func (c *Config) ProcessEnv() ([]string, error) {
	if !c.UseOSEnv && len(c.EnvFiles) == 0 && len(c.Env) == 0 {
		return nil, nil
	}
	e := env.New()
	if c.UseOSEnv {
		e.FromOS()
	}
	for _, f := range c.EnvFiles {
		if err := e.LoadFile(f); err != nil {
			return nil, fmt.Errorf("env file: %w", err)
		}
	}
	e.SetPairs(c.Env)
	return e.Merge(nil), nil
}
