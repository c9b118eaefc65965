package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/rxscan/internal/config"
	"github.com/MeKo-Tech/rxscan/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rxscan",
	Short: "Prescription recognition and pharmacist review pipeline",
	Long: `rxscan turns photographed or scanned prescriptions into structured medicine
records and routes uncertain ones to a pharmacist for review.

Each upload is conditioned for recognition, read by a recognition provider,
normalized, corrected against the medicine index and the reviewer correction
log, and scored with a fused confidence. Records below the review threshold
wait for a pharmacist; the rest may be admitted automatically.

Examples:
  rxscan scan prescription.jpg
  rxscan batch scans/ --recursive --workers 4
  rxscan review list --review-required
  rxscan review approve 0b6f... --reviewer pharm-1 --rename 2=Volini
  rxscan index alternatives "Dolo 650" --locality "Koramangala, Bengaluru"`,
	Version:      version.Get().String(),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/rxscan, /etc/rxscan)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		slog.SetDefault(newLogger(globalConfig))
		return nil
	}
}

// initConfig reads in the config file and RXSCAN_* variables. Each call
// starts from a fresh viper instance with the global flags bound.
func initConfig() error {
	v := viper.New()
	_ = v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	configLoader = config.NewLoaderWith(v)

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// newLogger builds the JSON logger for cfg. Logs go to stderr so command
// output on stdout stays machine readable.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// GetConfig returns the global configuration, loading it on first use.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if err := initConfig(); err != nil {
			return nil, err
		}
	}
	return globalConfig, nil
}

// GetConfigLoader returns the loader of the last configuration load.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoaderWith(viper.New())
	}
	return configLoader
}
