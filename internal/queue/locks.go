package queue

import (
	"slices"
	"sync"
)

// resourceLocks serializes tasks that claim the same resource key. Each key
// gets its own mutex, so tasks with disjoint claims still run concurrently.
type resourceLocks struct {
	mu   sync.Mutex // Guards the keys map itself
	keys map[string]*sync.Mutex
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{
		keys: make(map[string]*sync.Mutex),
	}
}

func (r *resourceLocks) lock(key string) {
	r.mu.Lock()
	m, ok := r.keys[key]
	if !ok {
		m = &sync.Mutex{}
		r.keys[key] = m
	}
	r.mu.Unlock()

	// Block outside the map lock so other keys stay available.
	m.Lock()
}

func (r *resourceLocks) unlock(key string) {
	r.mu.Lock()
	m, ok := r.keys[key]
	r.mu.Unlock()

	if ok {
		m.Unlock()
	}
}

// lockAll acquires every key in sorted order, which rules out lock-order
// deadlocks between tasks with overlapping claims. Duplicate keys are
// collapsed. The returned slice must be passed to unlockAll.
func (r *resourceLocks) lockAll(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}

	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	for _, key := range sorted {
		r.lock(key)
	}
	return sorted
}

// unlockAll releases keys obtained from lockAll in reverse order.
func (r *resourceLocks) unlockAll(sorted []string) {
	for i := len(sorted) - 1; i >= 0; i-- {
		r.unlock(sorted[i])
	}
}
