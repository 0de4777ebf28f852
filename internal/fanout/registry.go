// Package fanout delivers one committed unit to every registered
// destination, isolating each destination's failure and aggregating a
// report for the submitter.
package fanout

import (
	"sync"

	kit "mediavault/internal/transport"
)

// Registry is the set of fan-out destinations. It is constructed from
// configuration at startup and injected into the engine; iteration order
// is insertion order (not guaranteed stable across runs).
type Registry struct {
	mu    sync.RWMutex
	order []int64
	seen  map[int64]struct{}
}

func NewRegistry(chatIDs []int64) *Registry {
	r := &Registry{seen: make(map[int64]struct{}, len(chatIDs))}
	for _, id := range chatIDs {
		r.Add(id)
	}
	return r
}

// Add registers a destination. Returns false if it was already present.
func (r *Registry) Add(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[chatID]; ok {
		return false
	}
	r.seen[chatID] = struct{}{}
	r.order = append(r.order, chatID)
	return true
}

func (r *Registry) Contains(chatID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.seen[chatID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Targets returns the destinations in insertion order.
func (r *Registry) Targets() []kit.ChatTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.ChatTarget, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, kit.ChatTarget{ChatID: id})
	}
	return out
}
