package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gomiramon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadWith(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, int64(4096), cfg.Cache.Rows)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 1024*1024, cfg.HTTP.ReadAhead)
	assert.Equal(t, 64, cfg.Warp.BlockRows)
	assert.Equal(t, "near", cfg.Warp.Resampling)
	assert.False(t, cfg.Copy.Compress)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "gomiramon", cfg.Metrics.Namespace)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
http:
  timeout: 5s
warp:
  workers: 2
  resampling: bilinear
copy:
  compress: true
  pattern: band
metrics:
  enabled: true
  textfile: /tmp/gomiramon.prom
`)
	cfg, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 2, cfg.Warp.Workers)
	assert.Equal(t, "bilinear", cfg.Warp.Resampling)
	assert.True(t, cfg.Copy.Compress)
	assert.Equal(t, "band", cfg.Copy.Pattern)
	assert.Equal(t, "/tmp/gomiramon.prom", cfg.Metrics.Textfile)
	// untouched keys keep their defaults
	assert.Equal(t, 64, cfg.Warp.BlockRows)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("GOMIRAMON_WARP_BLOCK_ROWS", "8")
	t.Setenv("GOMIRAMON_LOGGING_LEVEL", "warn")
	cfg, err := LoadWith(viper.New(), writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Warp.BlockRows)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadWith(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadWith(viper.New(), writeConfig(t, "logging: [unclosed\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Logging: LoggingConfig{Level: "info", Format: "text"},
			Warp:    WarpConfig{BlockRows: 64, Resampling: "near"},
		}
	}
	require.NoError(t, (&Config{
		Logging: LoggingConfig{Level: "WARNING", Format: "JSON"},
		Warp:    WarpConfig{BlockRows: 1, Resampling: "Bilinear"},
	}).Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"cache rows", func(c *Config) { c.Cache.Rows = -1 }, "cache rows"},
		{"read ahead", func(c *Config) { c.HTTP.ReadAhead = -1 }, "read-ahead"},
		{"workers", func(c *Config) { c.Warp.Workers = -2 }, "workers"},
		{"block rows", func(c *Config) { c.Warp.BlockRows = 0 }, "block rows"},
		{"resampling", func(c *Config) { c.Warp.Resampling = "cubic" }, "unknown resampling"},
		{"textfile", func(c *Config) { c.Metrics.Textfile = "out.prom" }, "metrics disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
