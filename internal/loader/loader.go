/*
Package loader is the entry point of the image loader.

A Loader ties the memory tier, the disk tier, the fetch coordinator and the
binder together. Request never blocks: it answers from memory when it can,
otherwise it shows the placeholder and submits a fetch. Completions reach
targets through the Dispatcher, and only while the target still expects
the same key.

	queue := loader.NewQueueDispatcher()
	l, err := loader.New(&loader.Config{
		Directory:  dir,
		Fetcher:    fetcher,
		Decoder:    decode.NewImageDecoder(),
		Dispatcher: queue,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	_ = l.Request("https://example.com/cat.png", view)
	go queue.Run(ctx) // targets are touched only on this goroutine
*/
package loader

import (
	"log/slog"
	"sync"
	"time"

	"github.com/objectfs/imageloader/internal/binder"
	"github.com/objectfs/imageloader/internal/cache"
	"github.com/objectfs/imageloader/internal/coordinator"
	"github.com/objectfs/imageloader/internal/decode"
	"github.com/objectfs/imageloader/internal/metrics"
	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/health"
	"github.com/objectfs/imageloader/pkg/types"
	"github.com/objectfs/imageloader/pkg/utils"
)

// DefaultPlaceholder is shown while an image loads.
const DefaultPlaceholder = "loading"

// Config contains everything needed to build a Loader.
type Config struct {
	// Directory holds the disk tier. Required.
	Directory string
	// MemoryCapacity is the memory tier budget in bytes. Zero means a
	// quarter of the process memory budget.
	MemoryCapacity int64

	Workers int
	Timeout time.Duration
	Policy  decode.Policy

	Placeholder    string
	ClearOnFailure bool

	Fetcher types.Fetcher
	Decoder types.Decoder
	// Dispatcher carries completions back to the caller. When nil the
	// Loader owns a QueueDispatcher, reachable through Dispatcher.
	Dispatcher types.Dispatcher
	Notifier   types.Notifier
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Loader serves images to display targets.
type Loader struct {
	memory      *cache.MemoryCache
	store       *cache.FileStore
	coordinator *coordinator.Coordinator
	binder      *binder.Binder
	health      *health.Tracker
	dispatcher  types.Dispatcher
	metrics     *metrics.Collector
	logger      *slog.Logger

	mu             sync.RWMutex
	placeholder    string
	clearOnFailure bool
	notifier       types.Notifier

	closeOnce sync.Once
}

// Stats aggregates the loader's components.
type Stats struct {
	Memory      types.CacheStats  `json:"memory"`
	Disk        types.CacheStats  `json:"disk"`
	Coordinator coordinator.Stats `json:"coordinator"`
	Pending     int               `json:"pending"`
	Bound       int               `json:"bound"`
	Health      string            `json:"health"`
}

// New builds a Loader and starts its worker pool.
func New(config *Config) (*Loader, error) {
	if config == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "loader config is required").
			WithComponent("loader")
	}

	logger := utils.OrNop(config.Logger)

	store, err := cache.NewFileStore(&cache.FileStoreConfig{
		Directory: config.Directory,
		Logger:    logger.With("component", "filestore"),
	})
	if err != nil {
		return nil, err
	}

	capacity := config.MemoryCapacity
	if capacity <= 0 {
		capacity = utils.FractionOf(utils.MemoryBudget(), 0.25)
	}
	memory := cache.NewMemoryCache(&cache.MemoryCacheConfig{
		Capacity: capacity,
		Logger:   logger.With("component", "memory"),
		OnEvict: func(types.RequestKey, int64) {
			config.Metrics.RecordEviction()
		},
	})

	tracker := health.NewTracker(health.DefaultConfig())
	tracker.RegisterComponent(health.ComponentDisk)
	tracker.RegisterComponent(health.ComponentNetwork)
	tracker.AddStateChangeCallback(func(component string, oldState, newState health.HealthState, err error) {
		logger.Warn("health changed", "component", component, "from", oldState, "to", newState, "error", err)
	})

	coord, err := coordinator.NewCoordinator(&coordinator.Config{
		Workers: config.Workers,
		Timeout: config.Timeout,
		Policy:  config.Policy,
		Fetcher: config.Fetcher,
		Decoder: config.Decoder,
		Store:   store,
		Metrics: config.Metrics,
		Health:  tracker,
		Logger:  logger.With("component", "coordinator"),
	})
	if err != nil {
		return nil, err
	}

	dispatcher := config.Dispatcher
	if dispatcher == nil {
		dispatcher = NewQueueDispatcher()
	}

	placeholder := config.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}

	l := &Loader{
		memory:         memory,
		store:          store,
		coordinator:    coord,
		binder:         binder.New(),
		health:         tracker,
		dispatcher:     dispatcher,
		metrics:        config.Metrics,
		logger:         logger,
		placeholder:    placeholder,
		clearOnFailure: config.ClearOnFailure,
		notifier:       config.Notifier,
	}

	if err := coord.Start(); err != nil {
		return nil, err
	}

	logger.Info("image loader ready",
		"directory", store.Dir(),
		"memory", utils.FormatBytes(memory.Capacity()),
		"workers", coord.Workers(),
		"timeout", coord.Timeout())
	return l, nil
}

// Request shows the image at url on target. It returns immediately; a memory
// hit is delivered before Request returns, anything else arrives later
// through the dispatcher. An invalid url clears the target and is returned.
func (l *Loader) Request(url string, target types.Target) error {
	key, err := types.KeyFromURL(url)
	if err != nil {
		l.binder.Forget(target.ID())
		target.SetImage(nil)
		return err
	}
	l.request(key, url, target)
	return nil
}

func (l *Loader) request(key types.RequestKey, url string, target types.Target) {
	id := target.ID()
	l.binder.Bind(id, key)

	if img, ok := l.memory.Get(key); ok {
		l.metrics.RecordCacheLookup("memory", true)
		l.complete(target, key, types.Result{Key: key, Image: img, Source: "memory"})
		return
	}
	l.metrics.RecordCacheLookup("memory", false)

	target.SetPlaceholder(l.Placeholder())

	l.coordinator.Submit(key, url, func(result types.Result) {
		if result.OK() {
			l.memory.Put(key, result.Image, result.Image.SizeBytes)
			l.metrics.SetMemoryBytes(l.memory.Size())
		}
		if !l.binder.IsCurrent(target.ID(), key) {
			l.metrics.RecordDelivery(metrics.DeliveryStale)
			return
		}
		l.dispatcher.Post(func() { l.complete(target, key, result) })
	})
}

// complete runs on the dispatcher's goroutine. The target may have been
// rebound while the delivery sat in the queue, so the binder is asked again.
func (l *Loader) complete(target types.Target, key types.RequestKey, result types.Result) {
	if !l.binder.IsCurrent(target.ID(), key) {
		l.metrics.RecordDelivery(metrics.DeliveryStale)
		expected, _ := l.binder.Expected(target.ID())
		l.logger.Debug("dropping stale result", "target", target.ID(), "key", key, "expected", expected)
		return
	}

	if result.OK() {
		target.SetImage(result.Image)
		l.metrics.RecordDelivery(metrics.DeliveryDelivered)
		if n := l.Notifier(); n != nil {
			n.NotifyCompletion(key)
		}
		return
	}

	l.metrics.RecordDelivery(metrics.DeliveryFailed)
	l.logger.Debug("image unavailable", "target", target.ID(), "key", key, "error", result.Err)
	l.mu.RLock()
	clearTarget := l.clearOnFailure
	l.mu.RUnlock()
	if clearTarget {
		target.SetImage(nil)
	}
}

// ClearAll empties the memory tier and removes every disk entry. Fetches
// already running still complete and repopulate the tiers.
func (l *Loader) ClearAll() error {
	l.memory.Clear()
	l.metrics.SetMemoryBytes(0)
	if err := l.store.Clear(); err != nil {
		return err
	}
	l.logger.Info("caches cleared", "directory", l.store.Dir())
	return nil
}

// PathFor returns the disk path used for url.
func (l *Loader) PathFor(url string) (string, error) {
	key, err := types.KeyFromURL(url)
	if err != nil {
		return "", err
	}
	return l.store.PathFor(key), nil
}

// SetMemoryCapacity changes the memory budget, evicting as needed.
func (l *Loader) SetMemoryCapacity(bytes int64) {
	l.memory.SetCapacity(bytes)
	l.metrics.SetMemoryBytes(l.memory.Size())
}

// SetTimeout changes the network timeout.
func (l *Loader) SetTimeout(timeout time.Duration) {
	l.coordinator.SetTimeout(timeout)
}

// SetSizeLimit enables or disables subsampling and sets the pixel floor.
func (l *Loader) SetSizeLimit(enabled bool, floor int) {
	if floor <= 0 {
		floor = decode.DefaultSizeLimit
	}
	l.coordinator.SetPolicy(decode.Policy{LimitSize: enabled, SizeLimit: floor})
}

// SetPoolSize resizes the worker pool.
func (l *Loader) SetPoolSize(workers int) {
	l.coordinator.SetWorkers(workers)
}

// SetPlaceholder changes the placeholder shown on a miss.
func (l *Loader) SetPlaceholder(id string) {
	l.mu.Lock()
	l.placeholder = id
	l.mu.Unlock()
}

// Placeholder returns the placeholder shown on a miss.
func (l *Loader) Placeholder() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.placeholder
}

// SetClearOnFailure chooses between clearing the target and keeping the
// placeholder when a load fails.
func (l *Loader) SetClearOnFailure(enabled bool) {
	l.mu.Lock()
	l.clearOnFailure = enabled
	l.mu.Unlock()
}

// SetNotifier installs n to hear about every delivered image. Nil removes it.
func (l *Loader) SetNotifier(n types.Notifier) {
	l.mu.Lock()
	l.notifier = n
	l.mu.Unlock()
}

// Dispatcher returns the dispatcher completions are posted to. It is a
// *QueueDispatcher unless Config.Dispatcher said otherwise.
func (l *Loader) Dispatcher() types.Dispatcher {
	return l.dispatcher
}

// Notifier returns the installed notifier.
func (l *Loader) Notifier() types.Notifier {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.notifier
}

// Stats returns a snapshot of every tier.
func (l *Loader) Stats() Stats {
	return Stats{
		Memory:      l.memory.Stats(),
		Disk:        l.store.Stats(),
		Coordinator: l.coordinator.GetStats(),
		Pending:     l.coordinator.Pending(),
		Bound:       l.binder.Len(),
		Health:      l.health.GetOverallHealth().String(),
	}
}

// Health reports the state of the disk tier and the network.
func (l *Loader) Health() []health.ComponentHealth {
	return l.health.GetAllComponents()
}

// Coordinator exposes the fetch coordinator, mainly for draining.
func (l *Loader) Coordinator() *coordinator.Coordinator {
	return l.coordinator
}

// Close stops the worker pool. Pending requests complete with a
// COMPONENT_STOPPED failure.
func (l *Loader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.coordinator.Stop()
	})
	return err
}
