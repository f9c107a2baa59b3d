package syncgroup

import (
	"sync"
)

// SyncGroup 包装 sync.WaitGroup，统一管理一组 goroutine 的生命周期
//
// 典型用法：一个连接器生命周期内 Add 若干循环 → Run → 断开时 WaitAndClear。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []func()
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个待启动的函数（Run 时启动）
func (w *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, fn)
	w.mu.Unlock()
}

// Run 启动所有已登记的函数并清空登记列表
func (w *SyncGroup) Run() {
	w.mu.Lock()
	fns := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, fn := range fns {
		w.Go(fn)
	}
}

// Go 立即启动一个受管 goroutine
func (w *SyncGroup) Go(fn func()) {
	if fn == nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// WaitAndClear 等待所有 goroutine 结束并丢弃未启动的登记
func (w *SyncGroup) WaitAndClear() {
	w.wg.Wait()
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}

// Wait 等待所有 goroutine 结束
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
