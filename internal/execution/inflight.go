package execution

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrDuplicateInFlight 表示同一 key 的处理仍在进行（或仍在 TTL 窗口内）。
// 用于防止同一笔销售被并发处理两次。
var ErrDuplicateInFlight = errors.New("duplicate in-flight")

// InFlightDeduper 确定性的短窗口去重（分片 map + TTL，惰性清理）。
//
// TTL 只是兜底：正常流程在处理结束时 Release。
type InFlightDeduper struct {
	ttl    time.Duration
	shards []inFlightShard
}

type inFlightShard struct {
	mu sync.Mutex
	m  map[string]time.Time // key -> expiresAt
}

// NewInFlightDeduper 创建去重器
func NewInFlightDeduper(ttl time.Duration, shardCount int) *InFlightDeduper {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if shardCount <= 0 {
		shardCount = 16
	}
	shards := make([]inFlightShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]time.Time)
	}
	return &InFlightDeduper{ttl: ttl, shards: shards}
}

// TryAcquire 获取 key；已被占用返回 ErrDuplicateInFlight
func (d *InFlightDeduper) TryAcquire(key string) error {
	if d == nil || key == "" {
		return nil
	}
	now := time.Now()
	sh := d.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for k, exp := range sh.m {
		if !exp.After(now) {
			delete(sh.m, k)
		}
	}
	if exp, ok := sh.m[key]; ok && exp.After(now) {
		return ErrDuplicateInFlight
	}
	sh.m[key] = now.Add(d.ttl)
	return nil
}

// Acquire 获取 key 并返回释放函数（配合 defer 使用）
func (d *InFlightDeduper) Acquire(key string) (release func(), err error) {
	if err := d.TryAcquire(key); err != nil {
		return func() {}, err
	}
	return func() { d.Release(key) }, nil
}

// Release 释放 key
func (d *InFlightDeduper) Release(key string) {
	if d == nil || key == "" {
		return
	}
	sh := d.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

// Len 当前占用数（含未清理的过期项）
func (d *InFlightDeduper) Len() int {
	if d == nil {
		return 0
	}
	n := 0
	for i := range d.shards {
		d.shards[i].mu.Lock()
		n += len(d.shards[i].m)
		d.shards[i].mu.Unlock()
	}
	return n
}

func (d *InFlightDeduper) shard(key string) *inFlightShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &d.shards[h.Sum32()%uint32(len(d.shards))]
}
