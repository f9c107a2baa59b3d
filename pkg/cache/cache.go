package cache

import (
	"sync"
	"time"
)

// InMemoryCache 带 TTL 的内存缓存；Close 后停止后台清理
type InMemoryCache[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]cacheItem[V]
	defaultTTL time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	now      func() time.Time
}

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// NewInMemoryCache 创建新的内存缓存
func NewInMemoryCache[K comparable, V any](defaultTTL time.Duration) *InMemoryCache[K, V] {
	c := &InMemoryCache[K, V]{
		items:      make(map[K]cacheItem[V]),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	go c.cleanupLoop(cleanupInterval(defaultTTL))
	return c
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > time.Minute {
		return time.Minute
	}
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// Get 获取缓存值（过期视为不存在）
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().After(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set 设置缓存值；ttl 为 0 时使用默认 TTL
func (c *InMemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.items[key] = cacheItem[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// SetIfAbsent 仅在不存在（或已过期）时写入，返回是否写入
func (c *InMemoryCache[K, V]) SetIfAbsent(key K, value V, ttl time.Duration) bool {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[key]; ok && !now.After(item.expiresAt) {
		return false
	}
	c.items[key] = cacheItem[V]{value: value, expiresAt: now.Add(ttl)}
	return true
}

// Close 停止后台清理
func (c *InMemoryCache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *InMemoryCache[K, V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *InMemoryCache[K, V]) cleanup() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
}

// SeenSet 带 TTL 的“见过”集合（事件去重）
type SeenSet struct {
	cache *InMemoryCache[string, struct{}]
}

// NewSeenSet 创建集合
func NewSeenSet(ttl time.Duration) *SeenSet {
	return &SeenSet{cache: NewInMemoryCache[string, struct{}](ttl)}
}

// MarkIfNew 首次见到返回 true
func (s *SeenSet) MarkIfNew(key string) bool {
	return s.cache.SetIfAbsent(key, struct{}{}, 0)
}

func (s *SeenSet) seen(key string) bool {
	_, ok := s.cache.Get(key)
	return ok
}

// Close 释放后台清理 goroutine
func (s *SeenSet) Close() {
	s.cache.Close()
}
