package cache

import (
	"context"
	"sync"
	"time"

	"cyclecal/internal/metrics"
)

// DefaultTTL is how long fetched event lists and registrations stay fresh.
const DefaultTTL = 5 * time.Minute

// Cache defines the operations shared by every cache backend. A cache never
// fails: a miss, an expired entry and a backend error all look the same to
// the caller.
type Cache[T any] interface {
	// Get returns the value stored under key if it has not expired.
	Get(ctx context.Context, key string) (T, bool)

	// Set stores value under key, replacing any previous entry.
	Set(ctx context.Context, key string, value T)

	// Clear removes one entry. Clearing a missing key is a no-op.
	Clear(ctx context.Context, key string)

	// ClearAll removes every entry.
	ClearAll(ctx context.Context)
}

type entry[T any] struct {
	data     T
	storedAt time.Time
}

// TTL is an in-memory Cache with lazy expiry: stale entries are dropped by
// the Get that finds them, there is no background sweeper.
type TTL[T any] struct {
	mu   sync.Mutex
	data map[string]entry[T]
	ttl  time.Duration
	now  func() time.Time
}

func NewTTL[T any](ttl time.Duration) *TTL[T] {
	return &TTL[T]{
		data: make(map[string]entry[T]),
		ttl:  ttl,
		now:  time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (c *TTL[T]) WithClock(now func() time.Time) *TTL[T] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

func (c *TTL[T]) Get(_ context.Context, key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.data[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.data, key)
		return zero, false
	}
	return e.data, true
}

func (c *TTL[T]) Set(_ context.Context, key string, value T) {
	c.mu.Lock()
	c.data[key] = entry[T]{data: value, storedAt: c.now()}
	c.mu.Unlock()
}

func (c *TTL[T]) Clear(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

func (c *TTL[T]) ClearAll(_ context.Context) {
	c.mu.Lock()
	c.data = make(map[string]entry[T])
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included.
func (c *TTL[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

type instrumented[T any] struct {
	Cache[T]
	name string
}

// Instrument counts hits and misses of c under the given cache name.
func Instrument[T any](name string, c Cache[T]) Cache[T] {
	return &instrumented[T]{Cache: c, name: name}
}

func (c *instrumented[T]) Get(ctx context.Context, key string) (T, bool) {
	v, ok := c.Cache.Get(ctx, key)
	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheRequests.WithLabelValues(c.name, result).Inc()
	return v, ok
}
