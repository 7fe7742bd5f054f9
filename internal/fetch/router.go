package fetch

import (
	"context"
	"fmt"
	neturl "net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/types"
)

// Router sends each URL to the fetcher registered for its scheme.
type Router struct {
	mu       sync.RWMutex
	fetchers map[string]types.Fetcher
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{fetchers: make(map[string]types.Fetcher)}
}

// Register routes URLs with any of schemes to fetcher.
func (r *Router) Register(fetcher types.Fetcher, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range schemes {
		r.fetchers[strings.ToLower(scheme)] = fetcher
	}
}

// Schemes returns the registered schemes in sorted order.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.fetchers))
	for scheme := range r.fetchers {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// Fetch dispatches to the fetcher for url's scheme.
func (r *Router) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	u, err := neturl.Parse(url)
	if err != nil {
		return nil, errors.Transport(url, err).WithComponent("fetch").WithOperation("route")
	}

	r.mu.RLock()
	fetcher, ok := r.fetchers[strings.ToLower(u.Scheme)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Transport(url, fmt.Errorf("unsupported scheme %q", u.Scheme)).
			WithComponent("fetch").
			WithOperation("route")
	}
	return fetcher.Fetch(ctx, url, timeout)
}
