// Package binder remembers which key each display target is waiting for.
//
// Targets are tracked by their TargetID token only, so a binding never keeps
// a target alive. Entries are not cleaned up when a target goes away; a
// completion for a forgotten target simply fails IsCurrent.
package binder

import (
	"sync"

	"github.com/objectfs/imageloader/pkg/types"
)

// Binder maps targets to the key they currently expect.
type Binder struct {
	mu       sync.RWMutex
	bindings map[types.TargetID]types.RequestKey
}

// New creates an empty binder.
func New() *Binder {
	return &Binder{bindings: make(map[types.TargetID]types.RequestKey)}
}

// Bind records that target now expects key, replacing any earlier key.
func (b *Binder) Bind(target types.TargetID, key types.RequestKey) {
	b.mu.Lock()
	b.bindings[target] = key
	b.mu.Unlock()
}

// IsCurrent reports whether target's latest binding is exactly key.
func (b *Binder) IsCurrent(target types.TargetID, key types.RequestKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	current, ok := b.bindings[target]
	return ok && current == key
}

// Expected returns the key target is waiting for.
func (b *Binder) Expected(target types.TargetID) (types.RequestKey, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key, ok := b.bindings[target]
	return key, ok
}

// Forget drops target's binding. Pending completions for it become stale.
func (b *Binder) Forget(target types.TargetID) {
	b.mu.Lock()
	delete(b.bindings, target)
	b.mu.Unlock()
}

// Len returns the number of bound targets.
func (b *Binder) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bindings)
}
