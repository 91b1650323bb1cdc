package ledger

import "sync"

// KeyedLocks provides per-key mutual exclusion with non-blocking acquisition.
// The monitor uses it to guarantee a single closer per position without ever
// blocking a tick on a busy entry. Locks for settled positions are evicted so
// the map does not grow with trade history.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedLocks returns an empty lock map.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*sync.Mutex)}
}

// TryLock attempts to acquire the lock for key without blocking. It returns
// false when another holder is active.
func (k *KeyedLocks) TryLock(key string) bool {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	return l.TryLock()
}

// Unlock releases the lock for key. Unlocking an evicted key is a no-op:
// settlement evicts the entry before the closer's deferred Unlock runs.
func (k *KeyedLocks) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	k.mu.Unlock()
	if ok {
		l.Unlock()
	}
}

// Evict removes the lock entry for key. Call only after the owning entity is
// gone and the lock has been released.
func (k *KeyedLocks) Evict(key string) {
	k.mu.Lock()
	delete(k.locks, key)
	k.mu.Unlock()
}

// Len reports the number of live lock entries.
func (k *KeyedLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
