package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/tradelink/internal/common"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/metrics"
	"github.com/betbot/tradelink/internal/stream"
	"github.com/betbot/tradelink/pkg/cache"
	"github.com/betbot/tradelink/pkg/sigchan"
	"github.com/betbot/tradelink/pkg/syncgroup"
	"github.com/sirupsen/logrus"
)

// MinReconnectDelay 重连等待下限
const MinReconnectDelay = time.Second

// saleSeenTTL 同一连接生命周期内销售去重的保留时间
const saleSeenTTL = 24 * time.Hour

// State 连接器状态
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOnline
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active 是否有运行中的生命周期
func (s State) Active() bool {
	return s == StateConnecting || s == StateOnline || s == StateDegraded
}

// Connector 单个平台的连接器
//
// 每个生命周期运行两个循环：在线探测循环，以及推送（websocket）或轮询循环。
// 信号在循环 goroutine 上串行触发，同一连接器内保持到达顺序。
type Connector struct {
	driver    Driver
	transport Transport
	log       *logrus.Entry

	sendTrade      *stream.HandlerList[domain.Sale]
	cancelTrade    *stream.HandlerList[string]
	acceptWithdraw *stream.HandlerList[string]
	stateChange    *stream.HandlerList[bool]
	errs           *stream.HandlerList[error]

	wake *sigchan.Chan

	mu        sync.Mutex
	state     State
	token     string
	lastProbe ProbeResult
	cancel    context.CancelFunc
	loops     *syncgroup.SyncGroup
	seen      *cache.SeenSet
}

// New 创建连接器；transport 为 nil 时推送型驱动使用 websocket
func New(driver Driver, transport Transport) *Connector {
	if transport == nil {
		transport = NewWebsocketTransport("")
	}
	name := string(driver.Marketplace())
	return &Connector{
		driver:         driver,
		transport:      transport,
		log:            logrus.WithFields(logrus.Fields{"component": "connector", "marketplace": name}),
		sendTrade:      stream.NewHandlerList[domain.Sale](name + ".sendTrade"),
		cancelTrade:    stream.NewHandlerList[string](name + ".cancelTrade"),
		acceptWithdraw: stream.NewHandlerList[string](name + ".acceptWithdraw"),
		stateChange:    stream.NewHandlerList[bool](name + ".stateChange"),
		errs:           stream.NewHandlerList[error](name + ".error"),
		wake:           sigchan.New(1),
		state:          StateIdle,
	}
}

func (c *Connector) Marketplace() domain.Marketplace { return c.driver.Marketplace() }

// OnSendTrade 平台要求为一笔销售发送报价
func (c *Connector) OnSendTrade(fn func(domain.Sale)) (remove func()) { return c.sendTrade.Add(fn) }

// OnCancelTrade 平台要求撤销报价
func (c *Connector) OnCancelTrade(fn func(offerID string)) (remove func()) {
	return c.cancelTrade.Add(fn)
}

// OnAcceptWithdraw 平台要求接受一个提现报价
func (c *Connector) OnAcceptWithdraw(fn func(offerID string)) (remove func()) {
	return c.acceptWithdraw.Add(fn)
}

// OnStateChange 在线状态（每次探测都会触发，不去重）
func (c *Connector) OnStateChange(fn func(online bool)) (remove func()) {
	return c.stateChange.Add(fn)
}

// OnError 网络/解码/鉴权错误
func (c *Connector) OnError(fn func(error)) (remove func()) { return c.errs.Add(fn) }

// ClearListeners 移除全部订阅
func (c *Connector) ClearListeners() {
	c.sendTrade.Clear()
	c.cancelTrade.Clear()
	c.acceptWithdraw.Clear()
	c.stateChange.Clear()
	c.errs.Clear()
}

// State 当前状态
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastProbe 最近一次成功探测的结果
func (c *Connector) LastProbe() ProbeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastProbe
}

// SetExchangeToken 更新交易所 access token 并立即唤醒探测循环
func (c *Connector) SetExchangeToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.wake.Emit()
}

func (c *Connector) exchangeToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Connect 启动一个新的生命周期；已在运行时是 no-op。ctx 结束等同 Disconnect。
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return nil
	}
	if c.loops != nil {
		// 上一个生命周期由鉴权失败自行停止，回收其 goroutine
		prev, prevSeen := c.loops, c.seen
		c.loops, c.seen = nil, nil
		c.mu.Unlock()
		prev.WaitAndClear()
		if prevSeen != nil {
			prevSeen.Close()
		}
		c.mu.Lock()
		if c.state.Active() {
			c.mu.Unlock()
			return nil
		}
	}

	lifeCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateConnecting
	c.seen = cache.NewSeenSet(saleSeenTTL)
	c.loops = syncgroup.NewSyncGroup()
	loops := c.loops
	seen := c.seen
	c.mu.Unlock()

	c.wake.Drain()
	c.log.Infof("🔌 连接器启动")

	loops.Add(func() { c.probeLoop(lifeCtx) })
	switch d := c.driver.(type) {
	case PushDriver:
		loops.Add(func() { c.pushLoop(lifeCtx, d, seen) })
	case PollDriver:
		loops.Add(func() { c.pollLoop(lifeCtx, d, seen) })
	default:
		c.log.Warnf("⚠️ 驱动既不是推送型也不是轮询型，只运行探测")
	}
	loops.Run()
	return nil
}

// Disconnect 取消生命周期并等待循环退出；等待中的重连不会再触发
// 不能在连接器自身的信号回调里调用（会等待自己）
func (c *Connector) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	loops := c.loops
	seen := c.seen
	c.cancel = nil
	c.loops = nil
	c.seen = nil
	c.state = StateStopped
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if loops != nil {
		loops.WaitAndClear()
	}
	if seen != nil {
		seen.Close()
	}
	c.log.Infof("🔌 连接器已断开")
}

// Report 回报 销售 → 报价
func (c *Connector) Report(ctx context.Context, saleID, offerID string) error {
	return c.driver.Report(ctx, saleID, offerID)
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	if c.state.Active() {
		c.state = s
	}
	c.mu.Unlock()
}

// stopSelf 鉴权失败：在循环内部停止生命周期（不等待）
func (c *Connector) stopSelf(err error) {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.state = StateStopped
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.log.Errorf("❌ 平台鉴权失败，连接器停止: %v", err)
}

// handleError 返回 true 表示循环应当退出
func (c *Connector) handleError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	metrics.ConnectorErrors.Add(1)
	if errors.Is(err, domain.ErrUnauthorized) {
		c.stopSelf(err)
		c.errs.Emit(err)
		return true
	}
	c.log.Warnf("⚠️ %v", err)
	c.errs.Emit(err)
	return false
}

func (c *Connector) probeLoop(ctx context.Context) {
	common.RunTicker(ctx, c.driver.ProbeInterval(), true, c.wake.C(), func(ctx context.Context) {
		res, err := c.driver.Probe(ctx, c.exchangeToken())
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				c.handleError(ctx, err)
				return
			}
			c.setState(StateDegraded)
			c.stateChange.Emit(false)
			c.handleError(ctx, fmt.Errorf("probe: %w", err))
			return
		}

		c.mu.Lock()
		c.lastProbe = res
		c.mu.Unlock()
		if res.Online {
			c.setState(StateOnline)
		} else {
			c.setState(StateDegraded)
		}
		c.stateChange.Emit(res.Online)
	})
}

func (c *Connector) reconnectDelay() time.Duration {
	d := c.driver.ReconnectDelay()
	if d < MinReconnectDelay {
		d = MinReconnectDelay
	}
	return d
}

func (c *Connector) pushLoop(ctx context.Context, d PushDriver, seen *cache.SeenSet) {
	for attempt := 0; ctx.Err() == nil; attempt++ {
		if attempt > 0 {
			if !common.Sleep(ctx, c.reconnectDelay()) {
				return
			}
			metrics.ConnectorReconnects.Add(1)
			c.log.Infof("🔄 重连（第 %d 次）", attempt)
		}

		ep, err := d.Endpoint(ctx)
		if err != nil {
			if c.handleError(ctx, fmt.Errorf("endpoint: %w", err)) {
				return
			}
			continue
		}
		s, err := c.transport.Dial(ctx, ep)
		if err != nil {
			if c.handleError(ctx, err) {
				return
			}
			continue
		}

		if c.readStream(ctx, d, s, seen) {
			return
		}
	}
}

// readStream 读取直到连接断开；返回 true 表示循环应当退出
func (c *Connector) readStream(ctx context.Context, d PushDriver, s Stream, seen *cache.SeenSet) bool {
	defer s.Close()
	for {
		msg, err := s.Read(ctx)
		if err != nil {
			return c.handleError(ctx, fmt.Errorf("read: %w", err))
		}
		feed, err := d.Decode(msg)
		if err != nil {
			if c.handleError(ctx, fmt.Errorf("decode: %w", err)) {
				return true
			}
			continue
		}
		c.dispatch(ctx, feed, seen)
	}
}

func (c *Connector) pollLoop(ctx context.Context, d PollDriver, seen *cache.SeenSet) {
	for ctx.Err() == nil {
		feed, err := d.Poll(ctx)
		wait := d.PollInterval()
		if err != nil {
			if c.handleError(ctx, fmt.Errorf("poll: %w", err)) {
				return
			}
			wait = c.reconnectDelay()
		} else {
			c.dispatch(ctx, feed, seen)
		}
		if !common.Sleep(ctx, wait) {
			return
		}
	}
}

func (c *Connector) dispatch(ctx context.Context, feed Feed, seen *cache.SeenSet) {
	if feed.Empty() {
		return
	}
	m := c.driver.Marketplace()
	for _, sale := range feed.Sales {
		if ctx.Err() != nil {
			return
		}
		sale.Marketplace = m
		if sale.SaleID == "" || !seen.MarkIfNew(sale.SaleID) {
			continue
		}
		c.sendTrade.Emit(sale)
	}
	for _, id := range feed.Cancels {
		if ctx.Err() != nil {
			return
		}
		c.cancelTrade.Emit(id)
	}
	for _, id := range feed.Accepts {
		if ctx.Err() != nil {
			return
		}
		c.acceptWithdraw.Emit(id)
	}
}
