package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/utils"
)

// Delivery outcomes.
const (
	DeliveryDelivered = "delivered"
	DeliveryStale     = "stale"
	DeliveryFailed    = "failed"
)

// Collector records loader activity as Prometheus metrics.
// A nil or disabled collector accepts every call and records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	// Prometheus metrics
	cacheLookups  *prometheus.CounterVec
	fetchCounter  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchSize     prometheus.Histogram
	deliveries    *prometheus.CounterVec
	evictions     prometheus.Counter
	memoryBytes   prometheus.Gauge
	inFlight      prometheus.Gauge

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`

	Logger *slog.Logger `yaml:"-"`
}

// OperationMetrics tracks fetch tasks for one source.
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "imageloader",
			Labels:    make(map[string]string),
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		logger:     utils.OrNop(config.Logger),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.config != nil && c.config.Enabled && c.registry != nil
}

// Registry exposes the private registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.enabled() {
		return nil
	}
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start serves the metrics endpoint on the configured port.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server failed", "error", err)
		}
	}()

	c.logger.Info("metrics endpoint started", "port", c.config.Port, "path", c.config.Path)
	return nil
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordCacheLookup counts a lookup in tier ("memory" or "disk").
func (c *Collector) RecordCacheLookup(tier string, hit bool) {
	if !c.enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.With(prometheus.Labels{"tier": tier, "result": result}).Inc()
}

// RecordFetch records a finished fetch task. source is where the bytes
// came from; err is the task's failure, if any.
func (c *Collector) RecordFetch(source string, duration time.Duration, size int64, err error) {
	if !c.enabled() {
		return
	}

	result := resultLabel(err)
	c.fetchCounter.With(prometheus.Labels{"source": source, "result": result}).Inc()
	c.fetchDuration.With(prometheus.Labels{"source": source}).Observe(duration.Seconds())
	if size > 0 {
		c.fetchSize.Observe(float64(size))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	op, exists := c.operations[source]
	if !exists {
		op = &OperationMetrics{}
		c.operations[source] = op
	}
	op.Count++
	op.TotalDuration += duration
	op.TotalSize += size
	if err != nil {
		op.Errors++
	}
	op.LastOperation = time.Now()
	op.AvgDuration = time.Duration(int64(op.TotalDuration) / op.Count)
	op.AvgSize = float64(op.TotalSize) / float64(op.Count)
}

// RecordDelivery counts what happened to a completion at its target.
func (c *Collector) RecordDelivery(outcome string) {
	if !c.enabled() {
		return
	}
	c.deliveries.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordEviction counts one memory tier eviction.
func (c *Collector) RecordEviction() {
	if !c.enabled() {
		return
	}
	c.evictions.Inc()
}

// SetMemoryBytes reports the memory tier's current size.
func (c *Collector) SetMemoryBytes(size int64) {
	if !c.enabled() {
		return
	}
	c.memoryBytes.Set(float64(size))
}

// SetInFlight reports the number of fetch tasks not yet finished.
func (c *Collector) SetInFlight(n int) {
	if !c.enabled() {
		return
	}
	c.inFlight.Set(float64(n))
}

// GetMetrics returns a snapshot of the per-source fetch tracking.
func (c *Collector) GetMetrics() map[string]interface{} {
	metrics := make(map[string]interface{})
	if !c.enabled() {
		return metrics
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		copied := *v
		operations[k] = &copied
	}

	metrics["operations"] = operations
	metrics["last_reset"] = c.lastReset
	metrics["uptime"] = time.Since(c.lastReset)
	return metrics
}

// ResetMetrics clears the per-source tracking. Prometheus counters are kept.
func (c *Collector) ResetMetrics() {
	if !c.enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	ns, sub := c.config.Namespace, c.config.Subsystem
	labels := prometheus.Labels(c.config.Labels)

	c.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_lookups_total",
			Help:        "Cache lookups by tier and result",
			ConstLabels: labels,
		},
		[]string{"tier", "result"},
	)

	c.fetchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "fetch_tasks_total",
			Help:        "Finished fetch tasks by source and result",
			ConstLabels: labels,
		},
		[]string{"source", "result"},
	)

	c.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "fetch_duration_seconds",
			Help:        "Duration of fetch tasks in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			ConstLabels: labels,
		},
		[]string{"source"},
	)

	c.fetchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "decoded_image_bytes",
			Help:        "Memory footprint of decoded images",
			Buckets:     prometheus.ExponentialBuckets(1024, 2, 20), // 1KB to ~1GB
			ConstLabels: labels,
		},
	)

	c.deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "deliveries_total",
			Help:        "Completions by what happened at the target",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)

	c.evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "memory_evictions_total",
		Help:        "Entries evicted from the memory tier",
		ConstLabels: labels,
	})

	c.memoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "memory_cache_bytes",
		Help:        "Current memory tier size in bytes",
		ConstLabels: labels,
	})

	c.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "in_flight_tasks",
		Help:        "Fetch tasks queued or running",
		ConstLabels: labels,
	})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheLookups,
		c.fetchCounter,
		c.fetchDuration,
		c.fetchSize,
		c.deliveries,
		c.evictions,
		c.memoryBytes,
		c.inFlight,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(errors.CodeOf(err)))
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"imageloader-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Fetch Summary\n")
	writef("=============\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset))
	writef("Last Reset: %v\n\n", c.lastReset)

	if len(c.operations) == 0 {
		writef("No fetches recorded.\n")
		return
	}

	sources := make([]string, 0, len(c.operations))
	for name := range c.operations {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	writef("%-12s %10s %10s %14s %12s %10s\n",
		"Source", "Count", "Errors", "Avg Duration", "Avg Size", "Last")
	for _, name := range sources {
		op := c.operations[name]
		writef("%-12s %10d %10d %14v %12s %10s\n",
			name, op.Count, op.Errors, op.AvgDuration,
			utils.FormatBytes(int64(op.AvgSize)), op.LastOperation.Format("15:04:05"))
	}
}
