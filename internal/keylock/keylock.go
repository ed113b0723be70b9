// Package keylock provides a mutex per string key.
package keylock

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Locks hands out one mutex per key and forgets it once nobody holds or
// waits on it.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func New() *Locks {
	return &Locks{locks: make(map[string]*lockEntry)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len reports how many keys are currently tracked.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
