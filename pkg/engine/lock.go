package engine

import "sync"

// keyedMutex serializes engine operations per instance ID. Entries are
// reference counted so the map does not grow with the number of instances
// ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

func (k *keyedMutex) lock(key string) {
	k.mu.Lock()

	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}

	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

func (k *keyedMutex) unlock(key string) {
	k.mu.Lock()

	entry := k.locks[key]
	entry.refs--

	if entry.refs == 0 {
		delete(k.locks, key)
	}

	k.mu.Unlock()

	entry.mu.Unlock()
}
