package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/objectfs/imageloader/internal/decode"
	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/health"
	"github.com/objectfs/imageloader/pkg/types"
)

type task struct {
	key       types.RequestKey
	url       string
	callbacks []Callback
	handle    *Handle
}

func newTask(key types.RequestKey, url string) *task {
	return &task{key: key, url: url, handle: newHandle(key)}
}

// attach must be called with the coordinator lock held.
func (t *task) attach(cb Callback) {
	if cb != nil {
		t.callbacks = append(t.callbacks, cb)
	}
}

// Handle is a future for one task. Every Submit folded into the same task
// gets the same handle.
type Handle struct {
	key    types.RequestKey
	once   sync.Once
	done   chan struct{}
	result types.Result
}

func newHandle(key types.RequestKey) *Handle {
	return &Handle{key: key, done: make(chan struct{})}
}

func (h *Handle) complete(result types.Result) {
	h.once.Do(func() {
		h.result = result
		close(h.done)
	})
}

// Key returns the key the task loads.
func (h *Handle) Key() types.RequestKey { return h.key }

// Done is closed when the result is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the task result. It is only meaningful after Done is closed.
func (h *Handle) Result() types.Result {
	<-h.done
	return h.result
}

// execute runs one task to completion. It never panics past its boundary.
func (c *Coordinator) execute(t *task) (result types.Result) {
	start := time.Now()
	result.Key = t.key

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("fetch task panicked", "key", t.key, "panic", r)
			result = types.Result{
				Key: t.key,
				Err: errors.NewError(errors.ErrCodeInternalError, fmt.Sprintf("task panicked: %v", r)).
					WithComponent("coordinator"),
			}
		}
		result.Duration = time.Since(start)

		var size int64
		if result.Image != nil {
			size = result.Image.SizeBytes
		}
		c.metrics.RecordFetch(result.Source, result.Duration, size, result.Err)
	}()

	policy := c.Policy()

	if img, ok := c.fromDisk(t.key, policy); ok {
		c.mu.Lock()
		c.stats.DiskHits++
		c.mu.Unlock()
		result.Image = img
		result.Source = SourceDisk
		return result
	}

	result.Source = SourceNetwork
	c.mu.Lock()
	c.stats.Fetches++
	c.mu.Unlock()

	data, err := c.fetcher.Fetch(c.ctx, t.url, c.Timeout())
	if err != nil {
		c.logger.Warn("fetch failed", "url", t.url, "error", err)
		c.health.RecordError(health.ComponentNetwork, err)
		result.Err = err
		return result
	}
	c.health.RecordSuccess(health.ComponentNetwork)

	if err := c.store.Write(t.key, data); err != nil {
		c.logger.Warn("failed to persist fetched bytes", "key", t.key, "error", err)
		c.health.RecordError(health.ComponentDisk, err)
	} else {
		c.health.RecordSuccess(health.ComponentDisk)
	}

	img, err := decode.DecodeWithPolicy(c.decoder, policy, data)
	if err != nil {
		if !errors.IsDecode(err) {
			err = errors.Decode(err)
		}
		c.logger.Warn("fetched bytes did not decode", "url", t.url, "error", err)
		result.Err = err
		return result
	}

	c.logger.Debug("image fetched", "url", t.url, "bytes", len(data), "factor", img.Factor)
	result.Image = img
	return result
}

// fromDisk decodes the disk entry for key. Corrupt or unreadable entries
// count as misses so the caller re-fetches.
func (c *Coordinator) fromDisk(key types.RequestKey, policy decode.Policy) (*types.Image, bool) {
	data, err := c.store.Read(key)
	if err != nil {
		if !errors.IsNotFound(err) {
			c.logger.Warn("disk read failed, fetching instead", "key", key, "error", err)
			c.health.RecordError(health.ComponentDisk, err)
		}
		c.metrics.RecordCacheLookup("disk", false)
		return nil, false
	}

	c.health.RecordSuccess(health.ComponentDisk)

	img, err := decode.DecodeWithPolicy(c.decoder, policy, data)
	if err != nil {
		c.logger.Warn("cached bytes did not decode, fetching again", "key", key, "error", err)
		c.metrics.RecordCacheLookup("disk", false)
		return nil, false
	}

	c.metrics.RecordCacheLookup("disk", true)
	return img, true
}
