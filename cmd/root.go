package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/engine"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "spotter",
	Short: "Find observables in text and resolve them against threat intelligence platforms",
	Long: `Spotter - observable detection and multi-platform resolution

Detects indicators (IPs, domains, URLs, hashes, CVEs, ATT&CK ids, wallets,
...) in plain or defanged text and looks them up on the configured OpenCTI
and OpenAEV platforms.

COMMANDS:
  spotter scan [file|-]           - Detect and resolve observables
  spotter classify <value>        - Classify a single value
  spotter refang <value>          - Undo defanging
  spotter defang <value>          - Print the defanged variants of a value
  spotter search <query>          - Search the connected platforms
  spotter platform test           - Test a platform connection
  spotter platform list           - List configured platforms
  spotter cache refresh           - Refresh the entity cache
  spotter cache stats             - Show entity cache statistics
  spotter serve                   - Start the HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			// Sync on a terminal returns EINVAL on Linux.
			if err := log.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
				fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
			}
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.spotter.yaml or ./.spotter.yaml)")

	// Logging configuration
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindEnv("logger.level", "SPOTTER_LOG_LEVEL")
	viper.BindEnv("logger.format", "SPOTTER_LOG_FORMAT")

	// Redis snapshot store
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address for cache snapshots (empty disables)")
	viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindEnv("redis.addr", "SPOTTER_REDIS_ADDR")
	viper.BindEnv("redis.password", "SPOTTER_REDIS_PASSWORD")

	// Resolution
	rootCmd.PersistentFlags().Duration("search-timeout", 0, "per-platform search timeout (default 5s)")
	rootCmd.PersistentFlags().Bool("live-search", true, "search platforms for detections missing from the cache")
	viper.BindPFlag("resolver.search_timeout", rootCmd.PersistentFlags().Lookup("search-timeout"))
	viper.BindPFlag("resolver.live_search", rootCmd.PersistentFlags().Lookup("live-search"))

	// Secrets (environment only, never flags)
	viper.BindEnv("server.api_key", "SPOTTER_API_KEY")
	viper.BindEnv("telemetry.enabled", "SPOTTER_TELEMETRY_ENABLED")
	viper.BindEnv("telemetry.endpoint", "SPOTTER_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".spotter")
	}

	viper.SetEnvPrefix("SPOTTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg = config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// An unset duration flag must not wipe the default.
	if cfg.Resolver.SearchTimeout <= 0 {
		cfg.Resolver.SearchTimeout = config.DefaultConfig().Resolver.SearchTimeout
	}
	return nil
}

// newEngine builds the engine for commands that talk to platforms.
func newEngine(ctx context.Context) (*engine.Engine, error) {
	return engine.New(ctx, cfg, log)
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *logger.Logger {
	return log
}
