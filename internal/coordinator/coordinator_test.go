package coordinator

import (
	"context"
	stderrors "errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/objectfs/imageloader/internal/cache"
	"github.com/objectfs/imageloader/internal/decode"
	"github.com/objectfs/imageloader/internal/fetch"
	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/health"
	"github.com/objectfs/imageloader/pkg/types"
)

// gatedFetcher serves fixed bytes per URL, optionally holding every fetch
// until release is closed.
type gatedFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	mu      sync.Mutex
	bodies  map[string][]byte
	err     error
}

func (f *gatedFetcher) Fetch(ctx context.Context, url string, _ time.Duration) ([]byte, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, errors.Transport(url, ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.Transport(url, stderrors.New("404"))
	}
	return body, nil
}

// fakeDecoder treats "img" as a 400x300 image and anything else as garbage.
type fakeDecoder struct{}

func (fakeDecoder) Probe(data []byte) (int, int, error) {
	if string(data) != "img" {
		return 0, 0, errors.Decode(stderrors.New("not an image"))
	}
	return 400, 300, nil
}

func (d fakeDecoder) Decode(data []byte, factor int) (*types.Image, error) {
	w, h, err := d.Probe(data)
	if err != nil {
		return nil, err
	}
	w, h = w/factor, h/factor
	return &types.Image{Width: w, Height: h, Factor: factor, SizeBytes: int64(w * h * 4)}, nil
}

func newTestCoordinator(t *testing.T, fetcher types.Fetcher, workers int) (*Coordinator, *cache.FileStore) {
	t.Helper()

	store, err := cache.NewFileStore(&cache.FileStoreConfig{Directory: t.TempDir()})
	require.NoError(t, err)

	c, err := NewCoordinator(&Config{
		Workers: workers,
		Timeout: time.Second,
		Fetcher: fetcher,
		Decoder: fakeDecoder{},
		Store:   store,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })
	return c, store
}

func waitFor(t *testing.T, h *Handle) types.Result {
	t.Helper()
	select {
	case <-h.Done():
		return h.Result()
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
		return types.Result{}
	}
}

func TestNewCoordinator_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewCoordinator(nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))

	_, err = NewCoordinator(&Config{Fetcher: &gatedFetcher{}})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func TestCoordinator_FetchPersistsAndDecodes(t *testing.T) {
	t.Parallel()

	fetcher := &gatedFetcher{bodies: map[string][]byte{"http://x/a.png": []byte("img")}}
	c, store := newTestCoordinator(t, fetcher, 2)

	result := waitFor(t, c.Submit("a", "http://x/a.png", nil))
	require.True(t, result.OK(), "err: %v", result.Err)
	assert.Equal(t, SourceNetwork, result.Source)
	assert.Equal(t, 400, result.Image.Width)

	persisted, err := store.Read("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), persisted)

	// The key is idle again; a second submit is served from disk.
	result = waitFor(t, c.Submit("a", "http://x/a.png", nil))
	require.True(t, result.OK())
	assert.Equal(t, SourceDisk, result.Source)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.False(t, c.InFlight("a"))
}

func TestCoordinator_Deduplicates(t *testing.T) {
	t.Parallel()

	fetcher := &gatedFetcher{
		release: make(chan struct{}),
		bodies:  map[string][]byte{"http://x/a.png": []byte("img")},
	}
	c, _ := newTestCoordinator(t, fetcher, 4)

	const n = 20
	var (
		mu      sync.Mutex
		order   []int
		results []types.Result
		wg      sync.WaitGroup
	)
	handles := make([]*Handle, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		handles[i] = c.Submit("a", "http://x/a.png", func(r types.Result) {
			mu.Lock()
			order = append(order, i)
			results = append(results, r)
			mu.Unlock()
			wg.Done()
		})
	}
	assert.True(t, c.InFlight("a"))
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	require.Len(t, results, n)
	for i, r := range results {
		assert.Same(t, results[0].Image, r.Image)
		assert.Equal(t, i, order[i], "callbacks must fire in attachment order")
	}
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(n-1), stats.Attached)
}

func TestCoordinator_ConcurrentSubmitters(t *testing.T) {
	t.Parallel()

	fetcher := &gatedFetcher{
		release: make(chan struct{}),
		bodies:  map[string][]byte{"http://x/a.png": []byte("img")},
	}
	c, _ := newTestCoordinator(t, fetcher, 4)

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Submit("a", "http://x/a.png", func(types.Result) { calls.Add(1) })
		}()
	}
	wg.Wait()
	close(fetcher.release)

	require.NoError(t, c.Drain(context.Background()))
	assert.Equal(t, int32(50), calls.Load())
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestCoordinator_FailuresBecomeResults(t *testing.T) {
	t.Parallel()

	t.Run("transport", func(t *testing.T) {
		c, store := newTestCoordinator(t, &gatedFetcher{}, 1)
		result := waitFor(t, c.Submit("a", "http://x/missing.png", nil))
		assert.False(t, result.OK())
		assert.True(t, errors.IsTransport(result.Err))
		_, err := store.Read("a")
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("fresh bytes that do not decode are terminal", func(t *testing.T) {
		fetcher := &gatedFetcher{bodies: map[string][]byte{"u": []byte("garbage")}}
		c, _ := newTestCoordinator(t, fetcher, 1)
		result := waitFor(t, c.Submit("a", "u", nil))
		assert.True(t, errors.IsDecode(result.Err))
		assert.Equal(t, int32(1), fetcher.calls.Load())
	})

	t.Run("no automatic retry", func(t *testing.T) {
		fetcher := &gatedFetcher{err: errors.Timeout("u", nil)}
		c, _ := newTestCoordinator(t, fetcher, 1)
		result := waitFor(t, c.Submit("a", "u", nil))
		assert.True(t, errors.IsTimeout(result.Err))
		assert.Equal(t, int32(1), fetcher.calls.Load())
		assert.Equal(t, int64(1), c.GetStats().Failed)
	})
}

func TestCoordinator_CorruptDiskEntryIsRefetched(t *testing.T) {
	t.Parallel()

	fetcher := &gatedFetcher{bodies: map[string][]byte{"u": []byte("img")}}
	c, store := newTestCoordinator(t, fetcher, 1)
	require.NoError(t, store.Write("a", []byte("corrupt")))

	result := waitFor(t, c.Submit("a", "u", nil))
	require.True(t, result.OK())
	assert.Equal(t, SourceNetwork, result.Source)

	repaired, err := store.Read("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), repaired)
}

func TestCoordinator_AppliesPolicy(t *testing.T) {
	t.Parallel()

	fetcher := &gatedFetcher{bodies: map[string][]byte{"u": []byte("img")}}
	c, _ := newTestCoordinator(t, fetcher, 1)
	c.SetPolicy(decode.Policy{LimitSize: true, SizeLimit: 100})

	result := waitFor(t, c.Submit("a", "u", nil))
	require.True(t, result.OK())
	assert.Equal(t, 2, result.Image.Factor)
	assert.Equal(t, 200, result.Image.Width)
}

func TestCoordinator_Settings(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, &gatedFetcher{}, 2)

	c.SetTimeout(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Timeout())
	c.SetTimeout(0)
	assert.Equal(t, DefaultTimeout, c.Timeout())

	c.SetWorkers(7)
	assert.Equal(t, 7, c.Workers())
	c.SetWorkers(1)
	assert.Equal(t, 1, c.Workers())
	c.SetWorkers(-1)
	assert.Equal(t, DefaultWorkers, c.Workers())
}

func TestCoordinator_ShrunkPoolStillRuns(t *testing.T) {
	t.Parallel()

	fetcher := &gatedFetcher{bodies: map[string][]byte{"a": []byte("img"), "b": []byte("img")}}
	c, _ := newTestCoordinator(t, fetcher, 4)
	c.SetWorkers(1)

	ra := c.Submit("a", "a", nil)
	rb := c.Submit("b", "b", nil)
	assert.True(t, waitFor(t, ra).OK())
	assert.True(t, waitFor(t, rb).OK())
}

func TestCoordinator_Stop(t *testing.T) {
	t.Parallel()

	fetcher := &gatedFetcher{release: make(chan struct{}), bodies: map[string][]byte{}}
	store, err := cache.NewFileStore(&cache.FileStoreConfig{Directory: t.TempDir()})
	require.NoError(t, err)
	c, err := NewCoordinator(&Config{Workers: 1, Fetcher: fetcher, Decoder: fakeDecoder{}, Store: store})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	running := c.Submit("a", "a", nil)
	queued := c.Submit("b", "b", nil)

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, c.Stop())

	assert.False(t, waitFor(t, running).OK())
	assert.True(t, errors.HasCode(waitFor(t, queued).Err, errors.ErrCodeComponentStopped))

	var got types.Result
	late := c.Submit("c", "c", func(r types.Result) { got = r })
	assert.True(t, errors.HasCode(waitFor(t, late).Err, errors.ErrCodeComponentStopped))
	assert.True(t, errors.HasCode(got.Err, errors.ErrCodeComponentStopped))

	assert.Error(t, c.Stop())
	assert.Error(t, c.Start())
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinator_StopInterruptsNetworkFetch(t *testing.T) {
	t.Parallel()

	ln := fasthttputil.NewInmemoryListener()
	release := make(chan struct{})
	server := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		ctx.SetBodyString("img")
	}}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() {
		close(release)
		_ = server.Shutdown()
		_ = ln.Close()
	})

	fetcher := fetch.NewHTTPFetcher(&fetch.HTTPFetcherConfig{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	})
	store, err := cache.NewFileStore(&cache.FileStoreConfig{Directory: t.TempDir()})
	require.NoError(t, err)
	c, err := NewCoordinator(&Config{
		Workers: 1,
		Timeout: 10 * time.Second,
		Fetcher: fetcher,
		Decoder: fakeDecoder{},
		Store:   store,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	h := c.Submit("stuck", "http://images.test/stuck.png", nil)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, waitFor(t, h).OK())
}

func TestCoordinator_DrainHonoursContext(t *testing.T) {
	t.Parallel()

	fetcher := &gatedFetcher{release: make(chan struct{}), bodies: map[string][]byte{"a": []byte("img")}}
	c, _ := newTestCoordinator(t, fetcher, 1)
	c.Submit("a", "a", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Drain(ctx), context.DeadlineExceeded)

	close(fetcher.release)
	assert.NoError(t, c.Drain(context.Background()))
}

func TestCoordinator_CallbackPanicIsContained(t *testing.T) {
	t.Parallel()

	fetcher := &gatedFetcher{release: make(chan struct{}), bodies: map[string][]byte{"a": []byte("img")}}
	c, _ := newTestCoordinator(t, fetcher, 1)

	var second atomic.Bool
	c.Submit("a", "a", func(types.Result) { panic("boom") })
	h := c.Submit("a", "a", func(types.Result) { second.Store(true) })
	close(fetcher.release)

	waitFor(t, h)
	require.NoError(t, c.Drain(context.Background()))
	assert.True(t, second.Load())
}

func TestCoordinator_TracksNetworkHealth(t *testing.T) {
	t.Parallel()

	store, err := cache.NewFileStore(&cache.FileStoreConfig{Directory: t.TempDir()})
	require.NoError(t, err)
	tracker := health.NewTracker(health.TrackerConfig{ErrorThreshold: 2, UnavailableThreshold: 10})
	tracker.RegisterComponent(health.ComponentNetwork)
	tracker.RegisterComponent(health.ComponentDisk)

	fetcher := &gatedFetcher{bodies: map[string][]byte{"ok": []byte("img")}}
	c, err := NewCoordinator(&Config{Workers: 1, Fetcher: fetcher, Decoder: fakeDecoder{}, Store: store, Health: tracker})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	waitFor(t, c.Submit("a", "missing-a", nil))
	waitFor(t, c.Submit("b", "missing-b", nil))
	assert.Equal(t, health.StateDegraded, tracker.GetState(health.ComponentNetwork))

	waitFor(t, c.Submit("c", "ok", nil))
	waitFor(t, c.Submit("d", "ok", nil))
	assert.Equal(t, health.StateHealthy, tracker.GetState(health.ComponentNetwork))
	assert.Equal(t, health.StateHealthy, tracker.GetState(health.ComponentDisk))
}
