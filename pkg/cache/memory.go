package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	token   string
	count   int64
	expires time.Time
}

// MemoryCache is a single-process Service for tests and Redis-less runs.
// Expired entries are dropped lazily and by a janitor.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func NewMemoryCache() *MemoryCache {
	return newMemoryCache(time.Minute, time.Now)
}

func newMemoryCache(sweep time.Duration, now func() time.Time) *MemoryCache {
	mc := &MemoryCache{
		entries: make(map[string]*entry),
		now:     now,
		stop:    make(chan struct{}),
	}
	go mc.janitor(sweep)
	return mc
}

func (mc *MemoryCache) Claim(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.liveLocked(key) != nil {
		return Lease{}, false, nil
	}
	lease := newLease(key)
	mc.entries[key] = &entry{token: lease.Token, expires: mc.now().Add(ttl)}
	return lease, true, nil
}

func (mc *MemoryCache) Release(_ context.Context, lease Lease) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	e := mc.liveLocked(lease.Key)
	if e == nil || e.token != lease.Token {
		return ErrLeaseLost
	}
	delete(mc.entries, lease.Key)
	return nil
}

func (mc *MemoryCache) Count(_ context.Context, key string, window time.Duration) (int64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	e := mc.liveLocked(key)
	if e == nil {
		e = &entry{expires: mc.now().Add(window)}
		mc.entries[key] = e
	}
	e.count++
	return e.count, nil
}

func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) liveLocked(key string) *entry {
	e, ok := mc.entries[key]
	if !ok {
		return nil
	}
	if !mc.now().Before(e.expires) {
		delete(mc.entries, key)
		return nil
	}
	return e
}

func (mc *MemoryCache) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-t.C:
			mc.mu.Lock()
			for k := range mc.entries {
				mc.liveLocked(k)
			}
			mc.mu.Unlock()
		}
	}
}

var (
	_ Service = (*MemoryCache)(nil)
	_ Service = (*RedisCache)(nil)
)
