// Package store holds the only in-process state the server keeps: short-lived
// copies of public data read back from content-addressed storage. Nothing
// session- or source-related is ever put here.
package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// Cache is a TTL read-through cache. Concurrent misses for the same key share
// one load.
type Cache[V any] struct {
	mu sync.RWMutex

	ttl         time.Duration
	maxEntries  int
	loadTimeout time.Duration
	now         func() time.Time
	entries     map[string]entry[V]

	group singleflight.Group
}

type Options struct {
	TTL time.Duration
	// MaxEntries bounds the map; 0 means 1024.
	MaxEntries int
	// LoadTimeout bounds a shared load; 0 means 30s.
	LoadTimeout time.Duration
}

func New[V any](opts Options) *Cache[V] {
	return NewWithNow[V](opts, time.Now)
}

func NewWithNow[V any](opts Options, now func() time.Time) *Cache[V] {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1024
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	return &Cache[V]{
		ttl:         opts.TTL,
		maxEntries:  opts.MaxEntries,
		loadTimeout: opts.LoadTimeout,
		now:         now,
		entries:     make(map[string]entry[V]),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = entry[V]{value: value, expires: now.Add(c.ttl)}
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrLoad returns the cached value or calls load once and caches its
// result. Errors are not cached. The shared load runs on a context detached
// from any one caller, bounded by LoadTimeout; each caller stops waiting when
// its own ctx is done.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// evictLocked drops expired entries, then the entry closest to expiry if
// the map is still full.
func (c *Cache[V]) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
