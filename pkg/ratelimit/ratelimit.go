package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// TokenBucket 令牌桶：容量 capacity，每 refillEvery 补充 1 个令牌
type TokenBucket struct {
	mu          sync.Mutex
	capacity    int
	tokens      int
	refillEvery time.Duration
	lastRefill  time.Time
}

// NewTokenBucket 创建令牌桶；ratePerSecond <= 0 时按 1 处理
func NewTokenBucket(capacity int, ratePerSecond float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return &TokenBucket{
		capacity:    capacity,
		tokens:      capacity,
		refillEvery: time.Duration(float64(time.Second) / ratePerSecond),
		lastRefill:  time.Now(),
	}
}

func (tb *TokenBucket) refill(now time.Time) {
	if tb.refillEvery <= 0 {
		return
	}
	n := int(now.Sub(tb.lastRefill) / tb.refillEvery)
	if n <= 0 {
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+n)
	tb.lastRefill = tb.lastRefill.Add(time.Duration(n) * tb.refillEvery)
	if tb.tokens == tb.capacity {
		tb.lastRefill = now
	}
}

// Allow 取一个令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(time.Now())
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞直到取得令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		tb.mu.Lock()
		wait := tb.refillEvery - time.Since(tb.lastRefill)
		tb.mu.Unlock()
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetRemaining 剩余令牌
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(time.Now())
	return tb.tokens
}

// GetResetTime 桶被填满的时间
func (tb *TokenBucket) GetResetTime() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	tb.refill(now)
	needed := tb.capacity - tb.tokens
	if needed <= 0 {
		return now
	}
	return tb.lastRefill.Add(time.Duration(needed) * tb.refillEvery)
}

// SlidingWindow 滑动窗口：windowSize 内最多 limit 次
type SlidingWindow struct {
	mu         sync.Mutex
	limit      int
	windowSize time.Duration
	requests   []time.Time
}

// NewSlidingWindow 创建滑动窗口限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = 1
	}
	return &SlidingWindow{limit: limit, windowSize: windowSize}
}

func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.requests = append(sw.requests[:0], sw.requests[i:]...)
	}
}

// Allow 检查并记录一次请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := time.Now()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 阻塞直到允许或 ctx 结束
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}
		sw.mu.Lock()
		wait := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if w := sw.windowSize - time.Since(sw.requests[0]); w > 0 {
				wait = w
			}
		}
		sw.mu.Unlock()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetRemaining 窗口内剩余次数
func (sw *SlidingWindow) GetRemaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(time.Now())
	return max(0, sw.limit-len(sw.requests))
}

// GetResetTime 最早一次请求滑出窗口的时间
func (sw *SlidingWindow) GetResetTime() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if len(sw.requests) == 0 {
		return time.Now()
	}
	return sw.requests[0].Add(sw.windowSize)
}

// 常用端点名
const (
	EndpointExchangeInventory = "exchange:inventory"
	EndpointExchangeOffers    = "exchange:offers"
	EndpointExchangeAuth      = "exchange:auth"
	EndpointMarketplace       = "marketplace:general"
)

// RateLimitManager 按端点名管理限流器
type RateLimitManager struct {
	mu       sync.RWMutex
	limiters map[string]RateLimiter
	fallback RateLimiter
}

// NewRateLimitManager 创建管理器并注册默认端点
func NewRateLimitManager() *RateLimitManager {
	m := &RateLimitManager{
		limiters: make(map[string]RateLimiter),
		fallback: NewSlidingWindow(600, time.Minute),
	}
	// 交易所库存接口限流严格，整体由库存缓存合并后再兜底
	m.limiters[EndpointExchangeInventory] = NewSlidingWindow(20, time.Minute)
	m.limiters[EndpointExchangeOffers] = NewTokenBucket(10, 2)
	m.limiters[EndpointExchangeAuth] = NewSlidingWindow(5, time.Minute)
	m.limiters[EndpointMarketplace] = NewTokenBucket(20, 5)
	return m
}

// Register 注册或替换端点限流器
func (m *RateLimitManager) Register(endpoint string, l RateLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[endpoint] = l
}

// Ensure 返回端点限流器；未注册时用 mk 创建并注册
func (m *RateLimitManager) Ensure(endpoint string, mk func() RateLimiter) RateLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	l := mk()
	m.limiters[endpoint] = l
	return l
}

// GetLimiter 获取端点限流器；未注册时返回共享的兜底限流器
func (m *RateLimitManager) GetLimiter(endpoint string) RateLimiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	return m.fallback
}

// Wait 等待端点放行
func (m *RateLimitManager) Wait(ctx context.Context, endpoint string) error {
	return m.GetLimiter(endpoint).Wait(ctx)
}

// Allow 端点是否放行
func (m *RateLimitManager) Allow(endpoint string) bool {
	return m.GetLimiter(endpoint).Allow()
}

// GetRemaining 端点剩余额度
func (m *RateLimitManager) GetRemaining(endpoint string) int {
	return m.GetLimiter(endpoint).GetRemaining()
}
