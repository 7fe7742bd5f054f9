package fetch

import (
	"context"
	"log/slog"
	neturl "net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/objectfs/imageloader/internal/circuit"
	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/types"
	"github.com/objectfs/imageloader/pkg/utils"
)

// GuardConfig configures Guard. Zero values disable the matching protection.
type GuardConfig struct {
	// Breakers supplies one breaker per host. Nil disables circuit breaking.
	Breakers *circuit.Manager
	// RateLimit is the sustained number of fetches per second.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Guard protects image hosts and the local network from runaway fetching.
type Guard struct {
	next     types.Fetcher
	breakers *circuit.Manager
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewGuard wraps next.
func NewGuard(next types.Fetcher, config GuardConfig) *Guard {
	g := &Guard{
		next:     next,
		breakers: config.Breakers,
		logger:   utils.OrNop(config.Logger),
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return g
}

// Fetch waits for a rate limit token, then fetches through the host's breaker.
// Time spent waiting for a token counts against timeout.
func (g *Guard) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	start := time.Now()

	if g.limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		err := g.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return nil, errors.Timeout(url, err).WithComponent("fetch").WithOperation("rate_limit")
		}
		timeout -= time.Since(start)
		if timeout <= 0 {
			return nil, errors.Timeout(url, context.DeadlineExceeded).
				WithComponent("fetch").
				WithOperation("rate_limit")
		}
	}

	if g.breakers == nil {
		return g.next.Fetch(ctx, url, timeout)
	}

	host := hostOf(url)
	var data []byte
	err := g.breakers.Get(host).Execute(ctx, func(ctx context.Context) error {
		var fetchErr error
		data, fetchErr = g.next.Fetch(ctx, url, timeout)
		return fetchErr
	})
	if errors.HasCode(err, errors.ErrCodeCircuitOpen) {
		g.logger.Debug("fetch rejected by open circuit", "host", host, "url", url)
	}
	return data, err
}

func hostOf(raw string) string {
	u, err := neturl.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
