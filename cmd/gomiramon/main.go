// Package main provides the gomiramon command line tool.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/valyala/fasthttp"

	"github.com/tingold/gomiramon"
	"github.com/tingold/gomiramon/internal/config"
	"github.com/tingold/gomiramon/internal/metrics"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

// state shared by the subcommands once configuration is loaded
var (
	cfg       *config.Config
	logger    *slog.Logger
	collector *metrics.Collector
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree with fresh flag state
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gomiramon",
		Short: "gomiramon - MiraMon raster toolkit",
		Long: `gomiramon reads, writes and reprojects MiraMon rasters.

A raster is addressed by its I.rel file, by one of its .img band files
or by a MiraMonRaster:"<rel>","<band.img>" subdataset name. http(s)
URLs are read with range requests.

Commands:
  - info:        describe a raster
  - subdatasets: list the band groups of a multi-grid raster
  - translate:   copy a raster to a new MiraMon raster
  - warp:        reproject a raster onto a new grid`,
		SilenceUsage:       true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gomiramon.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (json, text)")
	rootCmd.PersistentFlags().String("metrics-textfile", "", "write Prometheus metrics to this file on exit")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("metrics.textfile", rootCmd.PersistentFlags().Lookup("metrics-textfile"))

	rootCmd.AddCommand(newVersionCmd(), newInfoCmd(), newSubdatasetsCmd(), newTranslateCmd(), newWarpCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// no configuration needed
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gomiramon %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Build Date: %s\n", buildDate)
		},
	}
}

func setup(_ *cobra.Command, _ []string) error {
	if viper.GetString("metrics.textfile") != "" {
		viper.Set("metrics.enabled", true)
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger = setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
	}
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if collector == nil || cfg.Metrics.Textfile == "" {
		return nil
	}
	if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	logger.Debug("wrote metrics", "path", cfg.Metrics.Textfile)
	return nil
}

// metricsCollector returns the configured collector or a no-op one
func metricsCollector() gomiramon.MetricsCollector {
	if collector == nil {
		return &gomiramon.NoOpMetrics{}
	}
	return collector
}

func openOptions(update bool) *gomiramon.OpenOptions {
	return &gomiramon.OpenOptions{
		Client: &fasthttp.Client{
			ReadTimeout:  cfg.HTTP.Timeout,
			WriteTimeout: cfg.HTTP.Timeout,
		},
		ReadAhead: cfg.HTTP.ReadAhead,
		Logger:    logger,
		Metrics:   metricsCollector(),
		CacheRows: cfg.Cache.Rows,
		Update:    update,
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	// stdout carries command output
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
