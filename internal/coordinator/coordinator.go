// Package coordinator 账号协调器：一个交易所会话、一个库存缓存、0..4 个平台连接器
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/tradelink/internal/connector"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/events"
	"github.com/betbot/tradelink/internal/exchange"
	"github.com/betbot/tradelink/internal/inventory"
	"github.com/betbot/tradelink/internal/orchestrator"
	"github.com/betbot/tradelink/internal/ports"
	"github.com/betbot/tradelink/internal/risk"
	"github.com/betbot/tradelink/internal/stream"
	"github.com/betbot/tradelink/pkg/config"
	"github.com/betbot/tradelink/pkg/syncgroup"
	"github.com/sirupsen/logrus"
)

// ConnectorFactory 按平台构造连接器（marketplace.Factory 实现）
type ConnectorFactory interface {
	NewConnector(m domain.Marketplace, apiKey, proxyURL string) (*connector.Connector, error)
}

type managedConnector struct {
	conn    *connector.Connector
	removes []func()
}

// Coordinator 单账号协调器
//
// 账号聚合的所有修改都在 mu 下进行并整体持久化；连接器的断开在锁外进行，
// 因为连接器回调也需要获取 mu。
type Coordinator struct {
	username string
	cfg      *config.Config
	accounts ports.AccountStore
	factory  ConnectorFactory
	notifier ports.Notifier
	log      *logrus.Entry

	session *exchange.Session
	cache   *inventory.Cache
	records *orchestrator.FileOfferRecords
	orch    *orchestrator.Orchestrator
	events  *stream.HandlerList[events.Event]

	ctx    context.Context
	cancel context.CancelFunc
	tasks  *syncgroup.SyncGroup

	mu         sync.Mutex
	account    *domain.Account
	connectors map[domain.Marketplace]*managedConnector
	closed     bool

	sessionRemove func()
}

// coordinatorDeps 由 Registry 组装
type coordinatorDeps struct {
	cfg       *config.Config
	accounts  ports.AccountStore
	inventory ports.InventoryStore
	records   *orchestrator.FileOfferRecords
	factory   ConnectorFactory
	notifier  ports.Notifier
	appender  ports.NumberAppender
}

func newCoordinator(parent context.Context, d coordinatorDeps, account *domain.Account, session *exchange.Session) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	account.EnsureDefaults()
	c := &Coordinator{
		username:   account.Username,
		cfg:        d.cfg,
		accounts:   d.accounts,
		factory:    d.factory,
		notifier:   d.notifier,
		log:        logrus.WithFields(logrus.Fields{"component": "coordinator", "account": account.Username}),
		session:    session,
		records:    d.records,
		events:     stream.NewHandlerList[events.Event]("coordinator." + account.Username),
		ctx:        ctx,
		cancel:     cancel,
		tasks:      syncgroup.NewSyncGroup(),
		account:    account,
		connectors: make(map[domain.Marketplace]*managedConnector, 4),
	}
	c.cache = inventory.NewCache(account.Username, session, d.inventory, d.cfg.Inventory.CoalesceWindow)
	c.orch = orchestrator.New(orchestrator.Deps{
		Account:   account.Username,
		Session:   session,
		Inventory: c.cache,
		Ledger:    c,
		Records:   d.records,
		Notifier:  d.notifier,
		Appender:  d.appender,
		Breaker: risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
			MaxConsecutiveErrors: int64(d.cfg.Orchestrator.MaxConsecutiveErrors),
		}),
	})
	c.orch.OnEvent(c.events.Emit)
	c.sessionRemove = session.OnSessionEvent(c.handleSessionEvent)
	return c
}

// start 启动会话循环与库存自动刷新
func (c *Coordinator) start() {
	c.session.Start(c.ctx)
	if iv := c.cfg.Inventory.RefreshInterval; iv > 0 {
		c.cache.StartAutoRefresh(c.ctx, iv, domain.InventoryKey{
			CollectionID: c.cfg.Exchange.DefaultCollectionID,
			SubID:        c.cfg.Exchange.DefaultSubID,
		})
	}
}

func (c *Coordinator) Username() string { return c.username }

// Account 账号聚合快照
func (c *Coordinator) Account() *domain.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account.Clone()
}

// Session 交易所会话
func (c *Coordinator) Session() *exchange.Session { return c.session }

// Orchestrator 报价编排器
func (c *Coordinator) Orchestrator() *orchestrator.Orchestrator { return c.orch }

// Inventory 库存缓存
func (c *Coordinator) Inventory() *inventory.Cache { return c.cache }

// OnEvent 订阅生命周期事件
func (c *Coordinator) OnEvent(fn func(events.Event)) (remove func()) {
	return c.events.Add(fn)
}

// saveLocked 持久化账号聚合；调用方持有 mu
func (c *Coordinator) saveLocked() error {
	c.account.UpdatedAt = time.Now()
	if err := c.accounts.Save(context.Background(), c.account); err != nil {
		c.log.Errorf("❌ 保存账号失败: %v", err)
		return err
	}
	return nil
}

// HasProcessedSale 实现 orchestrator.Ledger
func (c *Coordinator) HasProcessedSale(m domain.Marketplace, saleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account.Settings(m).HasProcessedSale(saleID)
}

// RecordProcessedSale 实现 orchestrator.Ledger
func (c *Coordinator) RecordProcessedSale(_ context.Context, m domain.Marketplace, saleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.account.Settings(m).AddProcessedSale(saleID, c.cfg.Orchestrator.DedupListLimit) {
		return nil
	}
	return c.saveLocked()
}

// PendingTradesPath 实现 orchestrator.Ledger
func (c *Coordinator) PendingTradesPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account.User.PendingTradesPath
}

// StartMarketplace 启动平台连接器；已在运行时是 no-op
func (c *Coordinator) StartMarketplace(_ context.Context, m domain.Marketplace) error {
	if !m.IsValid() {
		return fmt.Errorf("%w: %s", domain.ErrUnknownMarketplace, m)
	}
	if !c.session.Authenticated() {
		return domain.ErrNotAuthenticated
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("coordinator closed")
	}
	var stale *managedConnector
	if mc, ok := c.connectors[m]; ok {
		if mc.conn.State() != connector.StateStopped {
			c.mu.Unlock()
			return nil
		}
		// 鉴权失败后自行停止的连接器：换一个新的
		stale = mc
		delete(c.connectors, m)
	}
	settings := c.account.Settings(m)
	if settings.APIKey == "" {
		c.mu.Unlock()
		c.releaseConnector(m, stale)
		return fmt.Errorf("%w: %s", domain.ErrMissingAPIKey, m)
	}
	conn, err := c.factory.NewConnector(m, settings.APIKey, c.account.ProxyURL)
	if err != nil {
		c.mu.Unlock()
		c.releaseConnector(m, stale)
		return err
	}
	mc := &managedConnector{conn: conn}
	mc.removes = []func(){
		conn.OnSendTrade(func(sale domain.Sale) { c.onSendTrade(conn, sale) }),
		conn.OnCancelTrade(func(id string) { c.onCancelTrade(conn, id) }),
		conn.OnAcceptWithdraw(func(id string) { c.onAcceptWithdraw(conn, id) }),
		conn.OnStateChange(func(online bool) { c.onStateChange(conn, online) }),
		conn.OnError(func(err error) { c.onConnectorError(conn, err) }),
	}
	// 登记与 Connect 在同一把锁内完成：并发的 Start/Stop 只会看到已启动的连接器
	// 新连接器的 Connect 只启动循环，不等待，回调会在锁释放后再进入
	conn.SetExchangeToken(c.session.AccessToken())
	if err := conn.Connect(c.ctx); err != nil {
		c.mu.Unlock()
		c.releaseConnector(m, mc)
		c.releaseConnector(m, stale)
		return err
	}
	c.connectors[m] = mc
	c.orch.SetReporter(m, conn)
	settings.Running = true
	saveErr := c.saveLocked()
	c.mu.Unlock()

	c.releaseConnector(m, stale)
	c.log.Infof("▶️ 平台 %s 已启动", m)
	return saveErr
}

// releaseConnector 断开并释放监听（锁外调用）
func (c *Coordinator) releaseConnector(m domain.Marketplace, mc *managedConnector) {
	if mc == nil {
		return
	}
	for _, rm := range mc.removes {
		rm()
	}
	mc.conn.Disconnect()
	mc.conn.ClearListeners()
}

// StopMarketplace 停止平台连接器；从未上线的连接器同样适用
func (c *Coordinator) StopMarketplace(m domain.Marketplace) error {
	if !m.IsValid() {
		return fmt.Errorf("%w: %s", domain.ErrUnknownMarketplace, m)
	}
	c.mu.Lock()
	mc := c.connectors[m]
	delete(c.connectors, m)
	settings := c.account.Settings(m)
	settings.Running = false
	settings.CanSell = false
	if mc != nil {
		c.orch.SetReporter(m, nil)
	}
	err := c.saveLocked()
	c.mu.Unlock()

	c.releaseConnector(m, mc)
	c.log.Infof("⏹️ 平台 %s 已停止", m)
	c.events.Emit(events.ConnectorStateChangedEvent{
		Meta:        events.NewMeta(c.username),
		Marketplace: m,
		Online:      false,
	})
	return err
}

// isCurrent 回调来自当前登记的连接器（停止后迟到的信号被忽略）
func (c *Coordinator) isCurrent(conn *connector.Connector) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	mc, ok := c.connectors[conn.Marketplace()]
	return ok && mc.conn == conn
}

func (c *Coordinator) onSendTrade(conn *connector.Connector, sale domain.Sale) {
	if !c.isCurrent(conn) {
		return
	}
	// 同一连接器内按到达顺序串行处理
	out := c.orch.HandleSale(c.ctx, sale)
	c.log.Debugf("sale %s → %s", sale.Key(), out)
}

func (c *Coordinator) onCancelTrade(conn *connector.Connector, offerID string) {
	if !c.isCurrent(conn) {
		return
	}
	c.tasks.Go(func() { c.orch.CancelTradeOffer(c.ctx, offerID, true) })
}

func (c *Coordinator) onAcceptWithdraw(conn *connector.Connector, offerID string) {
	if !c.isCurrent(conn) {
		return
	}
	c.orch.AcceptTradeOffer(c.ctx, offerID)
}

func (c *Coordinator) onStateChange(conn *connector.Connector, online bool) {
	m := conn.Marketplace()
	c.mu.Lock()
	mc, ok := c.connectors[m]
	if !ok || mc.conn != conn {
		c.mu.Unlock()
		return
	}
	c.account.Settings(m).CanSell = online
	_ = c.saveLocked()
	c.mu.Unlock()

	c.events.Emit(events.ConnectorStateChangedEvent{
		Meta:        events.NewMeta(c.username),
		Marketplace: m,
		Online:      online,
	})
}

func (c *Coordinator) onConnectorError(conn *connector.Connector, err error) {
	m := conn.Marketplace()
	if !c.isCurrent(conn) {
		return
	}
	fatal := errors.Is(err, domain.ErrUnauthorized)
	c.events.Emit(events.ErrorEvent{
		Meta:        events.NewMeta(c.username),
		Marketplace: m,
		Error:       err.Error(),
		Fatal:       fatal,
	})
	if !fatal {
		c.log.Warnf("⚠️ [%s] %v", m, err)
		return
	}
	c.log.Errorf("❌ [%s] API key 被拒绝，停止连接器: %v", m, err)
	// 回调运行在连接器自己的 goroutine 上，Disconnect 需要等待它退出
	c.tasks.Go(func() {
		if c.isCurrent(conn) {
			_ = c.StopMarketplace(m)
		}
		if c.notifier != nil {
			c.notifier.Notify("平台连接已停止", fmt.Sprintf("%s 拒绝了 API key，请检查后重新启动", m))
		}
	})
}

func (c *Coordinator) handleSessionEvent(ev exchange.Event) {
	switch ev.Kind {
	case exchange.EventCredentialRotated:
		c.mu.Lock()
		c.account.RefreshToken = ev.RefreshToken
		_ = c.saveLocked()
		c.mu.Unlock()
		c.log.Infof("🔑 refresh token 已轮换并保存")
	case exchange.EventWebSession:
		c.mu.Lock()
		conns := make([]*connector.Connector, 0, len(c.connectors))
		for _, mc := range c.connectors {
			conns = append(conns, mc.conn)
		}
		c.mu.Unlock()
		for _, conn := range conns {
			conn.SetExchangeToken(ev.AccessToken)
		}
	case exchange.EventNewOffer:
		if ev.Offer == nil {
			return
		}
		c.mu.Lock()
		autoAccept := c.account.User.GiftAutoAccept
		c.mu.Unlock()
		if autoAccept && ev.Offer.IsGift() {
			c.log.Infof("🎁 自动接受礼物报价 %s", ev.Offer.ID)
			c.orch.AcceptTradeOffer(c.ctx, ev.Offer.ID)
		}
	case exchange.EventLoginFailed:
		if c.notifier != nil {
			c.notifier.Notify("交易所登录失效", fmt.Sprintf("账号 %s 需要重新登录: %v", c.username, ev.Err))
		}
	}
}

// SetAPIKey 更新平台 API key；运行中的连接器会以新 key 重启
func (c *Coordinator) SetAPIKey(ctx context.Context, m domain.Marketplace, apiKey string) error {
	if !m.IsValid() {
		return fmt.Errorf("%w: %s", domain.ErrUnknownMarketplace, m)
	}
	c.mu.Lock()
	settings := c.account.Settings(m)
	settings.APIKey = apiKey
	running := settings.Running
	err := c.saveLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if running {
		if err := c.StopMarketplace(m); err != nil {
			return err
		}
		if apiKey != "" {
			return c.StartMarketplace(ctx, m)
		}
	}
	return nil
}

// UpdateUserSettings 更新用户设置
func (c *Coordinator) UpdateUserSettings(_ context.Context, s domain.UserSettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account.User = s
	return c.saveLocked()
}

// PauseTrading 人工暂停创建报价
func (c *Coordinator) PauseTrading() {
	c.orch.Breaker().Halt()
	c.log.Warnf("⏸️ 报价创建已暂停")
}

// ResumeTrading 恢复创建报价
func (c *Coordinator) ResumeTrading() {
	c.orch.Breaker().Resume()
	c.log.Infof("▶️ 报价创建已恢复")
}

// MarketplaceStatus 平台状态
type MarketplaceStatus struct {
	Running        bool   `json:"running"`
	CanSell        bool   `json:"can_sell"`
	HasAPIKey      bool   `json:"has_api_key"`
	State          string `json:"state"`
	Balance        string `json:"balance,omitempty"`
	ProcessedSales int    `json:"processed_sales"`
}

// Status 账号状态快照
type Status struct {
	Username      string                                   `json:"username"`
	Identity      string                                   `json:"identity"`
	Authenticated bool                                     `json:"authenticated"`
	Marketplaces  map[domain.Marketplace]MarketplaceStatus `json:"marketplaces"`
	Breaker       risk.Snapshot                            `json:"breaker"`
	OfferRecords  int                                      `json:"offer_records"`
	User          domain.UserSettings                      `json:"user"`
}

// Status 返回状态快照
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		Username:      c.username,
		Identity:      c.account.Identity,
		Authenticated: c.session.Authenticated(),
		Marketplaces:  make(map[domain.Marketplace]MarketplaceStatus, 4),
		User:          c.account.User,
	}
	for _, m := range domain.AllMarketplaces() {
		s := c.account.Settings(m)
		ms := MarketplaceStatus{
			Running:        s.Running,
			CanSell:        s.CanSell,
			HasAPIKey:      s.APIKey != "",
			State:          connector.StateIdle.String(),
			ProcessedSales: len(s.ProcessedSales),
		}
		if mc, ok := c.connectors[m]; ok {
			ms.State = mc.conn.State().String()
			if p := mc.conn.LastProbe(); !p.Balance.IsZero() {
				ms.Balance = p.Balance.String()
			}
		}
		st.Marketplaces[m] = ms
	}
	c.mu.Unlock()

	st.Breaker = c.orch.Breaker().Snapshot()
	st.OfferRecords = c.records.Len()
	return st
}

// shutdown 断开全部连接器（不修改 Running，便于重启后恢复）并停止后台任务
func (c *Coordinator) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conns := c.connectors
	c.connectors = make(map[domain.Marketplace]*managedConnector)
	c.mu.Unlock()

	for m, mc := range conns {
		c.orch.SetReporter(m, nil)
		c.releaseConnector(m, mc)
	}
	c.cancel()
	c.cache.StopAutoRefresh()
	if c.sessionRemove != nil {
		c.sessionRemove()
	}
	c.session.Shutdown()
	c.tasks.Wait()
}

// Close 进程退出时调用
func (c *Coordinator) Close() {
	c.shutdown()
	c.log.Infof("🛑 协调器已关闭")
}

// Logout 停止全部连接器、关闭会话、清除库存快照与报价记录并删除账号
func (c *Coordinator) Logout(ctx context.Context) error {
	for _, m := range domain.AllMarketplaces() {
		c.mu.Lock()
		_, running := c.connectors[m]
		c.mu.Unlock()
		if running {
			_ = c.StopMarketplace(m)
		}
	}
	c.shutdown()

	var errs []error
	if err := c.cache.Purge(ctx); err != nil {
		errs = append(errs, fmt.Errorf("purge inventory: %w", err))
	}
	if err := c.records.Purge(); err != nil {
		errs = append(errs, fmt.Errorf("purge offer records: %w", err))
	}
	if err := c.accounts.Remove(ctx, c.username); err != nil {
		errs = append(errs, fmt.Errorf("remove account: %w", err))
	}
	c.log.Infof("👋 已登出")
	return errors.Join(errs...)
}

// resumeMarketplaces 重新启动之前处于运行状态的平台
func (c *Coordinator) resumeMarketplaces(ctx context.Context) {
	c.mu.Lock()
	var toStart []domain.Marketplace
	for _, m := range domain.AllMarketplaces() {
		if s := c.account.Settings(m); s.Running && s.APIKey != "" {
			toStart = append(toStart, m)
		}
	}
	c.mu.Unlock()
	for _, m := range toStart {
		if err := c.StartMarketplace(ctx, m); err != nil {
			c.log.Warnf("⚠️ 恢复平台 %s 失败: %v", m, err)
		}
	}
}
