package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/objectfs/imageloader/internal/circuit"
	"github.com/objectfs/imageloader/internal/config"
	"github.com/objectfs/imageloader/internal/decode"
	"github.com/objectfs/imageloader/internal/fetch"
	"github.com/objectfs/imageloader/internal/metrics"
	"github.com/objectfs/imageloader/pkg/types"
	"github.com/objectfs/imageloader/pkg/utils"
)

// Options supplies the pieces a configuration file cannot describe.
type Options struct {
	Dispatcher types.Dispatcher
	Notifier   types.Notifier
	Metrics    *metrics.Collector
	Logger     *slog.Logger

	// Fetcher replaces the fetcher built from the configuration.
	Fetcher types.Fetcher
	// Decoder replaces decode.NewImageDecoder.
	Decoder types.Decoder
}

// NewFetcher builds the network stack described by cfg: HTTP(S), optional
// S3, then rate limiting and per-host circuit breaking.
func NewFetcher(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (types.Fetcher, error) {
	logger = utils.OrNop(logger)

	maxBody, err := cfg.BodySizeLimit()
	if err != nil {
		return nil, err
	}

	router := fetch.NewRouter()
	router.Register(fetch.NewHTTPFetcher(&fetch.HTTPFetcherConfig{
		UserAgent:    cfg.Fetch.UserAgent,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		MaxBodySize:  int(maxBody),
		Logger:       logger.With("component", "http"),
	}), "http", "https")

	if cfg.S3.Enabled {
		client, err := fetch.NewS3Client(ctx, fetch.S3ClientConfig{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		s3Fetcher := fetch.NewS3Fetcher(client, logger.With("component", "s3"))
		s3Fetcher.SetMaxSize(maxBody)
		router.Register(s3Fetcher, "s3")
	}

	guard := fetch.GuardConfig{
		RateLimit: cfg.Fetch.RateLimit,
		RateBurst: cfg.Fetch.RateBurst,
		Logger:    logger.With("component", "guard"),
	}
	if cb := cfg.Fetch.CircuitBreaker; cb.Enabled {
		guard.Breakers = circuit.NewManager(circuit.ConsecutiveFailures(cb.FailureThreshold, cb.Timeout))
	}

	logger.Debug("fetch stack built", "schemes", router.Schemes(),
		"rate_limit", cfg.Fetch.RateLimit, "circuit_breaker", cfg.Fetch.CircuitBreaker.Enabled)
	return fetch.NewGuard(router, guard), nil
}

// FromConfiguration validates cfg and builds a running Loader from it.
func FromConfiguration(ctx context.Context, cfg *config.Configuration, opts Options) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dir, err := cfg.CacheDirectory()
	if err != nil {
		return nil, err
	}
	capacity, err := cfg.MemoryCapacity()
	if err != nil {
		return nil, err
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		if fetcher, err = NewFetcher(ctx, cfg, opts.Logger); err != nil {
			return nil, err
		}
	}

	decoder := opts.Decoder
	if decoder == nil {
		decoder = decode.NewImageDecoder()
	}

	return New(&Config{
		Directory:      dir,
		MemoryCapacity: capacity,
		Workers:        cfg.Fetch.Workers,
		Timeout:        cfg.Fetch.Timeout,
		Policy: decode.Policy{
			LimitSize: cfg.Decode.LimitSize,
			SizeLimit: cfg.Decode.SizeLimit,
		},
		Placeholder:    cfg.Display.Placeholder,
		ClearOnFailure: cfg.Display.ClearOnFailure,
		Fetcher:        fetcher,
		Decoder:        decoder,
		Dispatcher:     opts.Dispatcher,
		Notifier:       opts.Notifier,
		Metrics:        opts.Metrics,
		Logger:         opts.Logger,
	})
}
