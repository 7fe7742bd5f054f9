// Package main provides the imageloader command line tool.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/objectfs/imageloader/internal/config"
	"github.com/objectfs/imageloader/pkg/utils"
)

var (
	// Version is set at build time.
	Version = "dev"

	configFile string
	logLevel   string
	cacheDir   string

	cfg       *config.Configuration
	logger    *slog.Logger
	logCloser io.Closer

	rootCmd = &cobra.Command{
		Use:           "imageloader",
		Short:         "Fetch, cache and inspect remote images",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "disk cache directory (overrides the configuration)")

	rootCmd.AddCommand(fetchCmd, pathCmd, clearCmd, configCmd, metricsCmd)
}

// setup loads the configuration in file, environment, flag order and builds the logger.
func setup(cmd *cobra.Command) error {
	cfg = config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if cacheDir != "" {
		cfg.Cache.Directory = cacheDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var err error
	logger, logCloser, err = utils.NewLogger(utils.LoggerConfig{
		Level:  cfg.Global.LogLevel,
		Format: cfg.Global.LogFormat,
		File:   cfg.Global.LogFile,
		Output: cmd.ErrOrStderr(),
	})
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
