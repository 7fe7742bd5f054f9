package types

import (
	"image"
	"time"
)

// TargetID identifies a display target without holding a reference to it.
type TargetID string

// Image is a decoded image held by the memory tier.
type Image struct {
	Pixels image.Image `json:"-"`
	Width  int         `json:"width"`
	Height int         `json:"height"`

	// Factor is the subsample factor that was applied while decoding.
	Factor int `json:"factor"`

	// SizeBytes is the in-memory footprint charged against the memory budget.
	SizeBytes int64 `json:"size_bytes"`
}

// Result is the outcome of one fetch task. Exactly one of Image and Err is set.
type Result struct {
	Key   RequestKey
	Image *Image
	Err   error

	// Source reports where the bytes came from: "disk" or "network".
	Source string
	// Duration is the wall time spent in the task.
	Duration time.Duration
}

// OK reports whether the result carries an image.
func (r Result) OK() bool {
	return r.Err == nil && r.Image != nil
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// ComputeRates fills HitRate and Utilization from the raw counters.
func (s *CacheStats) ComputeRates() {
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if s.Capacity > 0 {
		s.Utilization = float64(s.Size) / float64(s.Capacity)
	}
}
