package common

import "sync"

// KeyedMutex hands out one exclusive lock per key. Entries are reference
// counted and dropped once no goroutine holds or waits on them, so the map
// only grows with the number of keys in flight.
type KeyedMutex[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until the lock for key is held and returns its release
// function. The release function is safe to call more than once.
func (k *KeyedMutex[K]) Lock(key K) func() {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[K]*keyedEntry)
	}
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			k.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len reports how many keys currently have holders or waiters.
func (k *KeyedMutex[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
