package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache хранит значения в памяти процесса
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryCache создает кэш в памяти; now позволяет подменить часы в тестах
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{items: make(map[string]memoryItem), now: now}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		return nil, false, nil
	}
	return item.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = memoryItem{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

// MemoryLocker держит блокировки в пределах одного процесса
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewMemoryLocker создает локальный Locker
func NewMemoryLocker(now func() time.Time) *MemoryLocker {
	if now == nil {
		now = time.Now
	}
	return &MemoryLocker{locks: make(map[string]time.Time), now: now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiresAt, held := l.locks[key]; held && l.now().Before(expiresAt) {
		return nil, false, nil
	}
	expiresAt := l.now().Add(ttl)
	l.locks[key] = expiresAt

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		// Не снимаем чужую блокировку, взятую после истечения нашей
		if l.locks[key].Equal(expiresAt) {
			delete(l.locks, key)
		}
	}
	return release, true, nil
}
