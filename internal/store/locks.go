package store

import (
	"container/list"
	"sync"
)

// defaultMaxLocks bounds how many per-partner locks the registry retains.
const defaultMaxLocks = 1000

// lockEntry pairs a partner key with its mutex. inUse counts goroutines
// holding or waiting on the mutex so the registry never evicts a live lock.
type lockEntry struct {
	key   string
	mu    sync.Mutex
	inUse int
}

// lockRegistry hands out one mutex per partner key and bounds its own size
// with least-recently-used eviction. Acquiring an existing key moves it to
// the back of the usage order; eviction walks from the front and skips
// entries that are held or awaited.
type lockRegistry struct {
	mu      sync.Mutex
	max     int
	order   *list.List               // front is least recently used
	entries map[string]*list.Element // element value is *lockEntry
}

func newLockRegistry(max int) *lockRegistry {
	if max <= 0 {
		max = defaultMaxLocks
	}
	return &lockRegistry{
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// acquire blocks until the key's lock is held and returns the release
// function. The entry is pinned against eviction from before the blocking
// wait until release is called.
func (r *lockRegistry) acquire(key string) func() {
	r.mu.Lock()
	elem, ok := r.entries[key]
	if ok {
		r.order.MoveToBack(elem)
	} else {
		r.evictIdle()
		elem = r.order.PushBack(&lockEntry{key: key})
		r.entries[key] = elem
	}
	entry := elem.Value.(*lockEntry)
	entry.inUse++
	r.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			r.mu.Lock()
			entry.inUse--
			r.mu.Unlock()
		})
	}
}

// evictIdle drops least recently used idle entries until the registry is
// below capacity. When every entry is in use the registry grows past the
// cap instead of blocking. Called with r.mu held.
func (r *lockRegistry) evictIdle() {
	for r.order.Len() >= r.max {
		var victim *list.Element
		for elem := r.order.Front(); elem != nil; elem = elem.Next() {
			if elem.Value.(*lockEntry).inUse == 0 {
				victim = elem
				break
			}
		}
		if victim == nil {
			return
		}
		r.order.Remove(victim)
		delete(r.entries, victim.Value.(*lockEntry).key)
	}
}

// size reports how many locks the registry currently retains.
func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// contains reports whether a lock for key is currently retained.
func (r *lockRegistry) contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}
