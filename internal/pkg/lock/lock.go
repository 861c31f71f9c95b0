// Package lock provides keyed mutual exclusion for league operations.
// Operations touching the same season (pool close, outcome recording,
// correction, settlement, recompute) serialize on the season key so the
// one-open-match and one-shot-admission invariants hold; independent
// seasons proceed in parallel.
package lock

import (
	"sync"
)

// keyedMutex wraps a mutex with reference counting for cleanup.
type keyedMutex struct {
	mu       sync.Mutex
	refCount int
}

// KeyedLock provides per-key locking, one mutex per season or session id.
type KeyedLock struct {
	locks sync.Map // map[int64]*keyedMutex
	pool  sync.Pool
}

// NewKeyedLock creates a new KeyedLock instance.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{
		pool: sync.Pool{
			New: func() any {
				return &keyedMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given key.
func (kl *KeyedLock) getLock(key int64) *keyedMutex {
	// Try to load existing lock
	if v, ok := kl.locks.Load(key); ok {
		return v.(*keyedMutex)
	}

	// Create new lock from pool
	newLock := kl.pool.Get().(*keyedMutex)
	newLock.refCount = 0

	// Store or load existing (handles race condition)
	actual, loaded := kl.locks.LoadOrStore(key, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool
		kl.pool.Put(newLock)
	}
	return actual.(*keyedMutex)
}

// Lock acquires the lock for a key.
func (kl *KeyedLock) Lock(key int64) {
	lock := kl.getLock(key)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for a key.
func (kl *KeyedLock) Unlock(key int64) {
	if v, ok := kl.locks.Load(key); ok {
		lock := v.(*keyedMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (kl *KeyedLock) TryLock(key int64) bool {
	lock := kl.getLock(key)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}

// WithLock executes a function while holding the key's lock.
func (kl *KeyedLock) WithLock(key int64, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}
