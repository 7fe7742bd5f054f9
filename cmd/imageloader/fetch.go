package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/objectfs/imageloader/internal/loader"
	"github.com/objectfs/imageloader/internal/metrics"
	"github.com/objectfs/imageloader/pkg/types"
	"github.com/objectfs/imageloader/pkg/utils"
)

var (
	fetchWorkers   int
	fetchTimeout   time.Duration
	fetchLimitSize bool
	fetchSizeLimit int

	fetchCmd = &cobra.Command{
		Use:   "fetch URL...",
		Short: "Load images through both cache tiers and report what arrived",
		Example: `  imageloader fetch https://example.com/cat.png
  imageloader fetch --limit-size --size-limit 200 s3://photos/dog.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			applyFetchFlags(cmd)
			return runFetch(ctx, cmd.OutOrStdout(), args, nil)
		},
	}
)

func init() {
	addFetchFlags(fetchCmd)
}

func addFetchFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&fetchWorkers, "workers", "w", 0, "worker pool size")
	cmd.Flags().DurationVarP(&fetchTimeout, "timeout", "t", 0, "network timeout per image")
	cmd.Flags().BoolVar(&fetchLimitSize, "limit-size", false, "subsample large images while decoding")
	cmd.Flags().IntVar(&fetchSizeLimit, "size-limit", 0, "pixel floor for subsampling")
}

func applyFetchFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("workers") {
		cfg.Fetch.Workers = fetchWorkers
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Fetch.Timeout = fetchTimeout
	}
	if cmd.Flags().Changed("limit-size") {
		cfg.Decode.LimitSize = fetchLimitSize
	}
	if cmd.Flags().Changed("size-limit") {
		cfg.Decode.SizeLimit = fetchSizeLimit
	}
}

// consoleTarget prints what the loader delivers.
type consoleTarget struct {
	id  types.TargetID
	url string
	out io.Writer
	mu  *sync.Mutex
}

func (c *consoleTarget) ID() types.TargetID { return c.id }

func (c *consoleTarget) SetImage(img *types.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img == nil {
		fmt.Fprintf(c.out, "%-6s %s\n", "FAIL", c.url)
		return
	}
	fmt.Fprintf(c.out, "%-6s %s %dx%d factor=%d %s\n", "OK", c.url,
		img.Width, img.Height, img.Factor, utils.FormatBytes(img.SizeBytes))
}

func (c *consoleTarget) SetPlaceholder(id string) {
	logger.Debug("placeholder shown", "url", c.url, "placeholder", id)
}

// runFetch requests every url, delivers on this goroutine and returns once
// all deliveries ran.
func runFetch(ctx context.Context, out io.Writer, urls []string, collector *metrics.Collector) error {
	queue := loader.NewQueueDispatcher()
	l, err := loader.FromConfiguration(ctx, cfg, loader.Options{
		Dispatcher: queue,
		Metrics:    collector,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	var mu sync.Mutex
	for i, url := range urls {
		target := &consoleTarget{id: types.TargetID(fmt.Sprint(i)), url: url, out: out, mu: &mu}
		if err := l.Request(url, target); err != nil {
			logger.Warn("skipping url", "url", url, "error", err)
		}
	}

	drainErr := l.Coordinator().Drain(ctx)
	queue.Drain()

	stats := l.Stats()
	logger.Info("done",
		"memory", utils.FormatBytes(stats.Memory.Size),
		"disk_entries", stats.Disk.Entries,
		"disk", utils.FormatBytes(stats.Disk.Size),
		"fetches", stats.Coordinator.Fetches,
		"disk_hits", stats.Coordinator.DiskHits,
		"health", stats.Health)
	return drainErr
}
