package engine

import (
	"sync"
)

// InFlight tracks facility keys with an upstream fetch in progress.
// At most one holder exists per key at any instant.
type InFlight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewInFlight creates an empty tracker.
func NewInFlight() *InFlight {
	return &InFlight{keys: make(map[string]struct{})}
}

// TryAcquire marks key as in flight. It returns false if it already was.
func (f *InFlight) TryAcquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.keys == nil {
		f.keys = make(map[string]struct{})
	}
	if _, ok := f.keys[key]; ok {
		return false
	}
	f.keys[key] = struct{}{}
	return true
}

// Release clears key. Releasing a key that is not held is a no-op.
func (f *InFlight) Release(key string) {
	f.mu.Lock()
	delete(f.keys, key)
	f.mu.Unlock()
}

// Acquire is TryAcquire returning a release func that is safe to call more than once.
func (f *InFlight) Acquire(key string) (func(), bool) {
	if !f.TryAcquire(key) {
		return func() {}, false
	}
	var once sync.Once
	return func() { once.Do(func() { f.Release(key) }) }, true
}

// Contains reports whether key is currently held.
func (f *InFlight) Contains(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}

// Len returns the number of keys currently held.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}
