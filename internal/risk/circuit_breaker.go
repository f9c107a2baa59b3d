package risk

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrCircuitBreakerOpen 表示断路器已打开，暂停创建新报价。
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig 断路器配置。阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 连续创建报价失败上限。
	MaxConsecutiveErrors int64
}

// Snapshot 断路器状态快照
type Snapshot struct {
	Halted            bool      `json:"halted"`
	ManualHalt        bool      `json:"manual_halt"`
	ConsecutiveErrors int64     `json:"consecutive_errors"`
	HaltedAt          time.Time `json:"halted_at,omitempty"`
}

// CircuitBreaker 报价创建熔断器（原子变量快路径）。
// 人工暂停与连续错误熔断都通过 Resume 恢复。
type CircuitBreaker struct {
	halted     atomic.Bool
	manualHalt atomic.Bool
	haltedAt   atomic.Int64 // unix nano

	consecutiveErrors    atomic.Int64
	maxConsecutiveErrors atomic.Int64
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
}

// Halt 人工暂停。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.manualHalt.Store(true)
	cb.trip()
}

func (cb *CircuitBreaker) trip() {
	if cb.halted.CompareAndSwap(false, true) {
		cb.haltedAt.Store(time.Now().UnixNano())
	}
}

// Resume 恢复（同时清空连续错误计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.manualHalt.Store(false)
	cb.haltedAt.Store(0)
	cb.consecutiveErrors.Store(0)
}

// AllowTrading 是否允许创建报价。
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}
	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.trip()
		return ErrCircuitBreakerOpen
	}
	return nil
}

// OnSuccess 报价创建成功后调用。
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError 报价创建失败后调用。
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// Snapshot 当前状态
func (cb *CircuitBreaker) Snapshot() Snapshot {
	if cb == nil {
		return Snapshot{}
	}
	s := Snapshot{
		Halted:            cb.halted.Load(),
		ManualHalt:        cb.manualHalt.Load(),
		ConsecutiveErrors: cb.consecutiveErrors.Load(),
	}
	if ns := cb.haltedAt.Load(); ns > 0 {
		s.HaltedAt = time.Unix(0, ns)
	}
	return s
}
