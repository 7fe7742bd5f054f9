// Package decode turns fetched bytes into in-memory images, optionally
// subsampled so that large sources do not waste memory.
package decode

// DefaultSizeLimit is the default pixel floor for subsampling.
const DefaultSizeLimit = 120

// ComputeFactor returns the largest power-of-two subsample factor that keeps
// both dimensions at or above floor. Starting at 1, the factor doubles while
// width/(2f) and height/(2f) are both >= floor.
//
//	ComputeFactor(800, 600, 120) == 4 // 200x150 fits, 100x75 would not
//	ComputeFactor(100, 100, 120) == 1 // already below the floor
func ComputeFactor(width, height, floor int) int {
	factor := 1
	if width <= 0 || height <= 0 || floor <= 0 {
		return factor
	}
	for width/(factor*2) >= floor && height/(factor*2) >= floor {
		factor *= 2
	}
	return factor
}

// Policy decides the subsample factor for an image.
type Policy struct {
	LimitSize bool `yaml:"limit_size"`
	SizeLimit int  `yaml:"size_limit"`
}

// DefaultPolicy returns a policy that never subsamples.
func DefaultPolicy() Policy {
	return Policy{LimitSize: false, SizeLimit: DefaultSizeLimit}
}

// Factor returns the subsample factor for an image of the given size.
func (p Policy) Factor(width, height int) int {
	if !p.LimitSize {
		return 1
	}
	return ComputeFactor(width, height, p.SizeLimit)
}
