/*
Package coordinator runs fetch tasks on a fixed-size worker pool and folds
concurrent requests for the same key into one task.

A key moves Idle -> InFlight -> Done. Submit on an idle key queues a new
task; Submit on an in-flight key attaches another callback to the running
task. When the task finishes every callback runs once, in attachment order,
with the same Result, and the key returns to Idle.

A task checks the disk tier first, then fetches with a bounded timeout,
persists the raw bytes and decodes them. Failures become Result values.
Callbacks run on the worker goroutine; callers that need delivery on
another goroutine hand off through a types.Dispatcher.
*/
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/objectfs/imageloader/internal/decode"
	"github.com/objectfs/imageloader/internal/metrics"
	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/health"
	"github.com/objectfs/imageloader/pkg/types"
	"github.com/objectfs/imageloader/pkg/utils"
)

// Default pool settings.
const (
	DefaultWorkers = 5
	DefaultTimeout = 10 * time.Second
)

// Sources reported in Result.Source.
const (
	SourceDisk    = "disk"
	SourceNetwork = "network"
)

// Callback receives the result of a task.
type Callback func(types.Result)

// DiskStore is the disk tier as seen by a task.
type DiskStore interface {
	Read(key types.RequestKey) ([]byte, error)
	Write(key types.RequestKey, data []byte) error
}

// Config contains configuration for the coordinator
type Config struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
	Policy  decode.Policy `yaml:"decode"`

	Fetcher types.Fetcher      `yaml:"-"`
	Decoder types.Decoder      `yaml:"-"`
	Store   DiskStore          `yaml:"-"`
	Metrics *metrics.Collector `yaml:"-"`
	Health  *health.Tracker    `yaml:"-"`
	Logger  *slog.Logger       `yaml:"-"`
}

// Coordinator deduplicates fetch tasks and executes them on a worker pool.
type Coordinator struct {
	fetcher types.Fetcher
	decoder types.Decoder
	store   DiskStore
	metrics *metrics.Collector
	health  *health.Tracker
	logger  *slog.Logger

	settingsMu sync.RWMutex
	timeout    time.Duration
	policy     decode.Policy

	// State
	mu       sync.Mutex
	cond     *sync.Cond
	inFlight map[types.RequestKey]*task
	queue    []*task
	workers  int
	running  int
	started  bool
	stopped  bool
	wg       sync.WaitGroup
	idle     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	stats Stats
}

// Stats tracks coordinator activity
type Stats struct {
	Submitted int64 `json:"submitted"`
	Attached  int64 `json:"attached"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	DiskHits  int64 `json:"disk_hits"`
	Fetches   int64 `json:"fetches"`
}

// NewCoordinator creates a coordinator. Workers do not run until Start.
func NewCoordinator(config *Config) (*Coordinator, error) {
	if config == nil || config.Fetcher == nil || config.Decoder == nil || config.Store == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "coordinator needs a fetcher, a decoder and a store").
			WithComponent("coordinator")
	}

	workers := config.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		fetcher:  config.Fetcher,
		decoder:  config.Decoder,
		store:    config.Store,
		metrics:  config.Metrics,
		health:   config.Health,
		logger:   utils.OrNop(config.Logger),
		timeout:  timeout,
		policy:   config.Policy,
		inFlight: make(map[types.RequestKey]*task),
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// Start launches the worker pool.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return errors.NewError(errors.ErrCodeComponentStopped, "coordinator stopped").WithComponent("coordinator")
	}
	if c.started {
		return fmt.Errorf("coordinator already started")
	}

	c.started = true
	c.spawnLocked()
	c.logger.Debug("worker pool started", "workers", c.workers)
	return nil
}

// Stop shuts the pool down. Running tasks are cancelled, queued tasks finish
// with a COMPONENT_STOPPED result, and Stop returns once every worker exited.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already stopped")
	}
	c.stopped = true
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	c.cancel()
	c.cond.Broadcast()

	for _, t := range pending {
		c.finish(t, types.Result{Key: t.key, Err: stoppedError()})
	}

	c.wg.Wait()
	c.logger.Debug("worker pool stopped", "abandoned", len(pending))
	return nil
}

// Drain blocks until no task is queued or running, or ctx is done.
func (c *Coordinator) Drain(ctx context.Context) error {
	for {
		c.mu.Lock()
		if len(c.inFlight) == 0 {
			c.mu.Unlock()
			return nil
		}
		if c.idle == nil {
			c.idle = make(chan struct{})
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Submit requests the image for key, fetching url if needed. onResult runs
// exactly once. Submit never blocks on I/O.
func (c *Coordinator) Submit(key types.RequestKey, url string, onResult Callback) *Handle {
	c.mu.Lock()

	if c.stopped {
		c.mu.Unlock()
		h := newHandle(key)
		h.complete(types.Result{Key: key, Err: stoppedError()})
		if onResult != nil {
			onResult(h.result)
		}
		return h
	}

	if t, ok := c.inFlight[key]; ok {
		t.attach(onResult)
		c.stats.Attached++
		c.mu.Unlock()
		return t.handle
	}

	t := newTask(key, url)
	t.attach(onResult)
	c.inFlight[key] = t
	c.queue = append(c.queue, t)
	c.stats.Submitted++
	inFlight := len(c.inFlight)
	c.mu.Unlock()

	c.cond.Signal()
	c.metrics.SetInFlight(inFlight)
	return t.handle
}

// InFlight reports whether a task for key is queued or running.
func (c *Coordinator) InFlight(key types.RequestKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[key]
	return ok
}

// Pending returns the number of keys queued or running.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// SetWorkers resizes the pool. Excess workers exit after their current task.
func (c *Coordinator) SetWorkers(n int) {
	if n <= 0 {
		n = DefaultWorkers
	}

	c.mu.Lock()
	c.workers = n
	if c.started && !c.stopped {
		c.spawnLocked()
	}
	c.mu.Unlock()

	c.cond.Broadcast()
	c.logger.Debug("worker pool resized", "workers", n)
}

// Workers returns the configured pool size.
func (c *Coordinator) Workers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workers
}

// SetTimeout changes the network timeout for tasks that have not started fetching.
func (c *Coordinator) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.settingsMu.Lock()
	c.timeout = timeout
	c.settingsMu.Unlock()
}

// Timeout returns the network timeout.
func (c *Coordinator) Timeout() time.Duration {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.timeout
}

// SetPolicy changes the decode policy for tasks that have not decoded yet.
func (c *Coordinator) SetPolicy(policy decode.Policy) {
	c.settingsMu.Lock()
	c.policy = policy
	c.settingsMu.Unlock()
}

// Policy returns the decode policy.
func (c *Coordinator) Policy() decode.Policy {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.policy
}

// GetStats returns a copy of the coordinator counters.
func (c *Coordinator) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Coordinator) spawnLocked() {
	for c.running < c.workers {
		c.running++
		c.wg.Add(1)
		go c.worker()
	}
}

func (c *Coordinator) worker() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.stopped && c.running <= c.workers {
			c.cond.Wait()
		}
		if c.stopped || c.running > c.workers {
			c.running--
			c.mu.Unlock()
			return
		}
		t := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.finish(t, c.execute(t))
	}
}

// finish publishes the result and runs the callbacks. The key leaves the
// in-flight set only after every callback, including ones attached while
// earlier callbacks were running, has been invoked.
func (c *Coordinator) finish(t *task, result types.Result) {
	t.handle.complete(result)

	for {
		c.mu.Lock()
		callbacks := t.callbacks
		t.callbacks = nil
		if len(callbacks) == 0 {
			delete(c.inFlight, t.key)
			if result.OK() {
				c.stats.Completed++
			} else {
				c.stats.Failed++
			}
			inFlight := len(c.inFlight)
			if inFlight == 0 && c.idle != nil {
				close(c.idle)
				c.idle = nil
			}
			c.mu.Unlock()

			c.metrics.SetInFlight(inFlight)
			return
		}
		c.mu.Unlock()

		for _, cb := range callbacks {
			c.invoke(cb, result)
		}
	}
}

func (c *Coordinator) invoke(cb Callback, result types.Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("result callback panicked", "key", result.Key, "panic", r)
		}
	}()
	cb(result)
}

func stoppedError() error {
	return errors.NewError(errors.ErrCodeComponentStopped, "coordinator stopped").WithComponent("coordinator")
}
