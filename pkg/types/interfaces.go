package types

import (
	"context"
	"time"
)

// Fetcher retrieves the raw bytes behind a URL within a bounded time.
// Implementations return a TIMEOUT or TRANSPORT LoaderError on failure.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// Decoder turns raw bytes into a decoded image.
type Decoder interface {
	// Probe reads the image dimensions without decoding pixels.
	Probe(data []byte) (width, height int, err error)
	// Decode decodes data, subsampling by factor (a power of two, >= 1).
	Decode(data []byte, factor int) (*Image, error)
}

// Target is a display surface that receives images.
type Target interface {
	// ID returns a stable identity token for the target.
	ID() TargetID
	// SetImage delivers a decoded image. A nil image means "no image".
	SetImage(img *Image)
	// SetPlaceholder shows the placeholder identified by id.
	SetPlaceholder(id string)
}

// Dispatcher schedules functions on the execution context that owns the targets.
type Dispatcher interface {
	Post(fn func())
}

// Notifier is told about every image that was delivered to its target.
type Notifier interface {
	NotifyCompletion(key RequestKey)
}

// DispatcherFunc adapts an ordinary function to the Dispatcher interface.
type DispatcherFunc func(fn func())

// Post calls f(fn).
func (f DispatcherFunc) Post(fn func()) { f(fn) }

// NotifierFunc adapts an ordinary function to the Notifier interface.
type NotifierFunc func(key RequestKey)

// NotifyCompletion calls f(key).
func (f NotifierFunc) NotifyCompletion(key RequestKey) { f(key) }
