package fetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/utils"
)

// HTTPFetcherConfig configures HTTPFetcher
type HTTPFetcherConfig struct {
	UserAgent    string `yaml:"user_agent"`
	MaxRedirects int    `yaml:"max_redirects"`
	MaxBodySize  int    `yaml:"max_body_size"`

	// Dial overrides how connections are made. Used by tests.
	Dial   fasthttp.DialFunc `yaml:"-"`
	Logger *slog.Logger      `yaml:"-"`
}

// DefaultMaxBodySize caps a single image download.
const DefaultMaxBodySize = 64 << 20

// HTTPFetcher downloads images over HTTP(S).
type HTTPFetcher struct {
	client       *fasthttp.Client
	maxRedirects int
	logger       *slog.Logger
}

// NewHTTPFetcher creates a new HTTP fetcher
func NewHTTPFetcher(config *HTTPFetcherConfig) *HTTPFetcher {
	if config == nil {
		config = &HTTPFetcherConfig{}
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.MaxRedirects < 0 {
		config.MaxRedirects = 0
	}

	client := &fasthttp.Client{
		Name:                config.UserAgent,
		MaxResponseBodySize: config.MaxBodySize,
		Dial:                config.Dial,
	}

	return &HTTPFetcher{
		client:       client,
		maxRedirects: config.MaxRedirects,
		logger:       utils.OrNop(config.Logger),
	}
}

// Fetch downloads url. The whole exchange, redirects included, must finish
// within timeout. Cancelling ctx makes Fetch return at once.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(url, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	owned := true
	defer func() {
		if owned {
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
		}
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	current := url

	for redirects := 0; ; redirects++ {
		req.SetRequestURI(current)
		done := f.do(req, resp, deadline)
		select {
		case err := <-done:
			if err != nil {
				return nil, classify(url, err)
			}
		case <-ctx.Done():
			// The exchange still holds req and resp until DoDeadline returns.
			owned = false
			go func() {
				<-done
				fasthttp.ReleaseRequest(req)
				fasthttp.ReleaseResponse(resp)
			}()
			return nil, contextError(url, ctx.Err())
		}

		status := resp.StatusCode()
		if fasthttp.StatusCodeIsRedirect(status) {
			if redirects >= f.maxRedirects {
				return nil, errors.Transport(url, fasthttp.ErrTooManyRedirects).
					WithComponent("fetch").
					WithOperation("http")
			}
			location := resp.Header.Peek(fasthttp.HeaderLocation)
			if len(location) == 0 {
				return nil, errors.Transport(url, fmt.Errorf("redirect %d without location", status)).
					WithComponent("fetch").
					WithOperation("http")
			}
			uri := req.URI()
			uri.UpdateBytes(location)
			next := uri.String()
			f.logger.Debug("following redirect", "from", current, "to", next, "status", status)
			current = next

			if err := ctx.Err(); err != nil {
				return nil, contextError(url, err)
			}
			continue
		}

		if status != fasthttp.StatusOK {
			return nil, errors.Transport(url, fmt.Errorf("unexpected status %d", status)).
				WithComponent("fetch").
				WithOperation("http").
				WithContext("status", fmt.Sprint(status))
		}

		body := append([]byte(nil), resp.Body()...)
		f.logger.Debug("fetched", "url", url, "bytes", len(body), "redirects", redirects)
		return body, nil
	}
}

// do runs one exchange in the background so the caller can stop waiting on
// cancellation. fasthttp itself only honours the deadline.
func (f *HTTPFetcher) do(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.client.DoDeadline(req, resp, deadline) }()
	return done
}

func classify(url string, err error) error {
	var netErr net.Error
	if stderrors.Is(err, fasthttp.ErrTimeout) ||
		stderrors.Is(err, fasthttp.ErrDialTimeout) ||
		(stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Timeout(url, err).WithComponent("fetch").WithOperation("http")
	}
	return errors.Transport(url, err).WithComponent("fetch").WithOperation("http")
}

func contextError(url string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(url, err).WithComponent("fetch")
	}
	return errors.Transport(url, err).WithComponent("fetch")
}
