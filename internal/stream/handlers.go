package stream

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "stream")

// HandlerList 类型化的回调列表（一个信号一个列表）
//
// Emit 在调用方 goroutine 上串行执行所有回调，保证到达顺序；
// 单个回调 panic 会被恢复并记录，不影响其他回调；没有订阅者时 Emit 是 no-op。
type HandlerList[E any] struct {
	name     string
	mu       sync.RWMutex
	nextID   uint64
	handlers []entry[E]
}

type entry[E any] struct {
	id uint64
	fn func(E)
}

// NewHandlerList 创建列表；name 仅用于日志
func NewHandlerList[E any](name string) *HandlerList[E] {
	return &HandlerList[E]{name: name}
}

// Add 注册回调，返回取消订阅函数
func (h *HandlerList[E]) Add(fn func(E)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.handlers = append(h.handlers, entry[E]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *HandlerList[E]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.handlers {
		if e.id == id {
			h.handlers = append(h.handlers[:i:i], h.handlers[i+1:]...)
			return
		}
	}
}

// Snapshot 返回回调快照（无锁遍历，避免长时间持锁）
func (h *HandlerList[E]) Snapshot() []func(E) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]func(E), len(h.handlers))
	for i, e := range h.handlers {
		out[i] = e.fn
	}
	return out
}

// Emit 串行触发所有回调
func (h *HandlerList[E]) Emit(ev E) {
	for i, fn := range h.Snapshot() {
		func(idx int, f func(E)) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("❌ [%s] 回调 %d panic: %v", h.name, idx, r)
				}
			}()
			f(ev)
		}(i, fn)
	}
}

// Clear 移除全部回调
func (h *HandlerList[E]) Clear() {
	h.mu.Lock()
	h.handlers = nil
	h.mu.Unlock()
}

func (h *HandlerList[E]) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
