package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/objectfs/imageloader/internal/cache"
	"github.com/objectfs/imageloader/internal/metrics"
	"github.com/objectfs/imageloader/pkg/types"
	"github.com/objectfs/imageloader/pkg/utils"
)

var (
	pathCmd = &cobra.Command{
		Use:   "path URL...",
		Short: "Print the disk cache path for each URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			for _, url := range args {
				key, err := types.KeyFromURL(url)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), store.PathFor(key))
			}
			return nil
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached file from the disk tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			before := store.Stats()
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d files (%s) from %s\n",
				before.Entries, utils.FormatBytes(before.Size), store.Dir())
			return nil
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	metricsLinger time.Duration

	metricsCmd = &cobra.Command{
		Use:   "metrics URL...",
		Short: "Fetch images while serving Prometheus metrics",
		Long: `Fetch images while serving Prometheus metrics on global.metrics_port.
The endpoint stays up after the fetches finish until interrupted or until
--linger elapses.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			applyFetchFlags(cmd)

			collector, err := metrics.NewCollector(&metrics.Config{
				Enabled:   true,
				Port:      cfg.Global.MetricsPort,
				Path:      cfg.Metrics.Path,
				Namespace: cfg.Metrics.Namespace,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			if err := collector.Start(ctx); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = collector.Stop(shutdownCtx)
			}()

			if err := runFetch(ctx, cmd.OutOrStdout(), args, collector); err != nil {
				return err
			}

			if metricsLinger > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, metricsLinger)
				defer cancel()
			}
			logger.Info("serving metrics until interrupted", "port", cfg.Global.MetricsPort, "path", cfg.Metrics.Path)
			<-ctx.Done()
			return nil
		},
	}
)

func init() {
	addFetchFlags(metricsCmd)
	metricsCmd.Flags().DurationVar(&metricsLinger, "linger", 0, "stop serving after this long (0 waits for a signal)")
}

func openStore() (*cache.FileStore, error) {
	dir, err := cfg.CacheDirectory()
	if err != nil {
		return nil, err
	}
	return cache.NewFileStore(&cache.FileStoreConfig{Directory: dir, Logger: logger})
}
