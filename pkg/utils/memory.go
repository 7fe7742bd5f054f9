package utils

import (
	"math"
	"runtime/debug"
)

// DefaultMemoryBudget is used when the process has no soft memory limit.
const DefaultMemoryBudget int64 = 1 << 30

// MemoryBudget returns the memory available to the process: the runtime soft
// limit (GOMEMLIMIT) when one is set, DefaultMemoryBudget otherwise.
func MemoryBudget() int64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return DefaultMemoryBudget
	}
	return limit
}

// FractionOf returns fraction of total, rounded down, never below zero.
func FractionOf(total int64, fraction float64) int64 {
	if total <= 0 || fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return total
	}
	return int64(float64(total) * fraction)
}
