package state

import "sync"

// keyLocks provides per-wave mutual exclusion for checkpoint writes.
// Each wave ID gets its own mutex, so different waves never contend.
type keyLocks struct {
	mu    sync.Mutex // Guards the locks map itself
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its release function.
func (k *keyLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	m, exists := k.locks[key]
	if !exists {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	// Acquire outside the map lock so waiters on one key don't block others.
	m.Lock()
	return m.Unlock
}
