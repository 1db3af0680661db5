// Package cli implements the command-line interface for artvault.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/kilupskalvis/artvault/internal/config"
	"github.com/kilupskalvis/artvault/internal/metrics"
	"github.com/kilupskalvis/artvault/internal/retry"
	"github.com/kilupskalvis/artvault/internal/service"
	"github.com/kilupskalvis/artvault/internal/storage"
	"github.com/spf13/cobra"
)

var (
	configPath      string
	logLevel        string
	logFormat       string
	metricsTextfile string
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config  *config.Service
	Manager *service.Manager
	Metrics *metrics.Prom
	Logger  *slog.Logger

	redis *storage.RedisProvider
}

// Close writes the metrics textfile if requested and releases resources.
func (c *cmdContext) Close() {
	if metricsTextfile != "" {
		if err := c.Metrics.WriteTextfile(metricsTextfile); err != nil {
			c.Logger.Error("failed to write metrics", "path", metricsTextfile, "error", err)
		}
	}
	if c.redis != nil {
		c.redis.Close()
	}
}

// initContext loads the config and wires providers, registry and manager.
// A missing config file yields the defaults, saved on first change.
func initContext() *cmdContext {
	logger := newLogger(logLevel, logFormat)

	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default(configPath)
		logger.Debug("config file not found, using defaults", "path", configPath)
	} else if err != nil {
		exitError("%v", err)
	}

	policy, err := storage.ParseDuplicatePolicy(cfg.Registry.DuplicatePolicy)
	if err != nil {
		exitError("%v", err)
	}

	c := &cmdContext{Config: config.NewService(cfg), Metrics: metrics.NewProm("artvault"), Logger: logger}

	providers := []storage.Provider{storage.NewFSProvider(cfg.Checksum.Algorithms, logger)}
	if cfg.Redis.URL != "" {
		rp, err := retry.Value(context.Background(), nil, "connect redis", func() (*storage.RedisProvider, error) {
			return storage.NewRedisProvider(cfg.Redis.URL, cfg.Redis.Prefix, cfg.Checksum.Algorithms, logger)
		})
		if err != nil {
			exitError("failed to connect redis: %v", err)
		}
		c.redis = rp
		providers = append(providers, rp)
	}

	registry, err := storage.NewRegistry(policy, logger, providers...)
	if err != nil {
		c.Close()
		exitError("%v", err)
	}

	c.Manager = service.NewManager(c.Config, registry,
		service.WithMetrics(c.Metrics),
		service.WithLogger(logger),
	)
	return c
}

func newLogger(levelName, format string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

var rootCmd = &cobra.Command{
	Use:   "artvault",
	Short: "Artifact repository storage",
	Long: `artvault manages artifact repositories on local disk or redis: it
provisions and removes repositories, stores and serves artifacts with
checksums, and maintains a per-repository index that can be rebuilt,
merged and packed.`,
}

// ExecuteContext runs the root command. Commands observe ctx for
// cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", envOrDefault("ARTVAULT_CONFIG", config.DefaultConfigFile), "Config file (.toml, .yaml)")
	pf.StringVar(&logLevel, "log-level", envOrDefault("ARTVAULT_LOG_LEVEL", "warn"), "Log level (debug|info|warn|error)")
	pf.StringVar(&logFormat, "log-format", envOrDefault("ARTVAULT_LOG_FORMAT", "text"), "Log format (json|text)")
	pf.StringVar(&metricsTextfile, "metrics-textfile", os.Getenv("ARTVAULT_METRICS_TEXTFILE"), "Write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(artifactCmd)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
