// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Cache   CacheConfig   `mapstructure:"cache"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Warp    WarpConfig    `mapstructure:"warp"`
	Copy    CopyConfig    `mapstructure:"copy"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// CacheConfig sizes the decoded row cache of open rasters.
type CacheConfig struct {
	Rows int64 `mapstructure:"rows"`
}

// HTTPConfig holds settings for rasters read over http(s).
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	ReadAhead int           `mapstructure:"read_ahead"` // bytes
}

// WarpConfig holds reprojection defaults.
type WarpConfig struct {
	Workers    int    `mapstructure:"workers"` // 0 uses GOMAXPROCS
	BlockRows  int    `mapstructure:"block_rows"`
	Resampling string `mapstructure:"resampling"` // near, bilinear
}

// CopyConfig holds create-copy defaults.
type CopyConfig struct {
	Compress bool   `mapstructure:"compress"`
	Pattern  string `mapstructure:"pattern"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	// Textfile receives the metrics in Prometheus text format on exit
	Textfile string `mapstructure:"textfile"`
}

// Defaults registers default values on v.
func Defaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("cache.rows", 4096)

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.read_ahead", 1024*1024)

	v.SetDefault("warp.workers", 0)
	v.SetDefault("warp.block_rows", 64)
	v.SetDefault("warp.resampling", "near")

	v.SetDefault("copy.compress", false)
	v.SetDefault("copy.pattern", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "gomiramon")
	v.SetDefault("metrics.textfile", "")
}

// Load reads configuration from the global viper instance, which holds the
// bound command line flags.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.GetViper(), configPath)
}

// LoadWith reads configuration from a file, the environment and defaults.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	Defaults(v)

	v.SetEnvPrefix("GOMIRAMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gomiramon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gomiramon")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Cache.Rows < 0 {
		return fmt.Errorf("cache rows must not be negative: %d", c.Cache.Rows)
	}
	if c.HTTP.ReadAhead < 0 {
		return fmt.Errorf("http read-ahead must not be negative: %d", c.HTTP.ReadAhead)
	}
	if c.Warp.Workers < 0 {
		return fmt.Errorf("warp workers must not be negative: %d", c.Warp.Workers)
	}
	if c.Warp.BlockRows < 1 {
		return fmt.Errorf("warp block rows must be positive: %d", c.Warp.BlockRows)
	}
	switch strings.ToLower(c.Warp.Resampling) {
	case "near", "nearest", "bilinear":
	default:
		return fmt.Errorf("unknown resampling: %s", c.Warp.Resampling)
	}

	if c.Metrics.Textfile != "" && !c.Metrics.Enabled {
		return fmt.Errorf("metrics textfile set but metrics disabled")
	}
	return nil
}
