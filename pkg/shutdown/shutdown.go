package shutdown

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var shutdownLog = logrus.WithField("component", "shutdown")

// Handler 关闭回调
type Handler func(ctx context.Context)

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器；回调按注册的逆序串行执行（后启动的先关闭）
type Manager struct {
	mu        sync.Mutex
	callbacks []namedHandler
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（只执行一次）
// ctx 应带超时；超时后剩余回调不再执行
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	shutdownLog.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))
	for i := len(callbacks) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			shutdownLog.Warnf("关闭超时，跳过剩余 %d 个回调: %v", i+1, ctx.Err())
			return
		}
		cb := callbacks[i]
		func() {
			defer func() {
				if r := recover(); r != nil {
					shutdownLog.Errorf("关闭回调 %s panic: %v", cb.name, r)
				}
			}()
			cb.fn(ctx)
		}()
		shutdownLog.Debugf("关闭回调完成: %s", cb.name)
	}
	shutdownLog.Info("所有关闭回调已完成")
}
