package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/tradelink/internal/common"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/stream"
	"github.com/betbot/tradelink/pkg/syncgroup"
	"github.com/sirupsen/logrus"
)

var sessionLog = logrus.WithField("component", "exchange")

// EventKind 会话事件类型
type EventKind int

const (
	EventWebSession        EventKind = iota + 1 // access token 变化
	EventCredentialRotated                      // refresh token 轮换，调用方必须持久化
	EventNewOffer                               // 收到新的报价
	EventLoginFailed
)

func (k EventKind) String() string {
	switch k {
	case EventWebSession:
		return "web_session"
	case EventCredentialRotated:
		return "credential_rotated"
	case EventNewOffer:
		return "new_offer"
	case EventLoginFailed:
		return "login_failed"
	}
	return "unknown"
}

// Event 会话事件
type Event struct {
	Kind         EventKind
	AccessToken  string
	RefreshToken string
	Offer        *domain.TradeOffer
	Err          error
}

// SessionConfig 会话循环配置
type SessionConfig struct {
	OfferPollInterval      time.Duration
	SessionRefreshInterval time.Duration
}

// Session 交易所会话：持有唯一的已认证连接
type Session struct {
	platform Platform
	cfg      SessionConfig

	mu          sync.RWMutex
	identity    string
	accessToken string
	creds       Credentials

	offersMu   sync.Mutex
	seenOffers map[string]struct{}

	events *stream.HandlerList[Event]

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loops      *syncgroup.SyncGroup
}

// NewSession 创建会话
func NewSession(platform Platform, cfg SessionConfig) *Session {
	return &Session{
		platform:   platform,
		cfg:        cfg,
		seenOffers: make(map[string]struct{}),
		events:     stream.NewHandlerList[Event]("exchange.session"),
		loops:      syncgroup.NewSyncGroup(),
	}
}

// OnSessionEvent 订阅会话事件
func (s *Session) OnSessionEvent(handler func(Event)) (remove func()) {
	return s.events.Add(handler)
}

// Authenticate 完整登录或 refresh token 静默续期
func (s *Session) Authenticate(ctx context.Context, creds Credentials) error {
	res, err := s.platform.Login(ctx, creds)
	if err == nil && (res.Identity == "" || res.AccessToken == "") {
		err = errors.New("login returned empty identity")
	}
	if err != nil {
		if !errors.Is(err, domain.ErrTransient) && !errors.Is(err, domain.ErrRateLimited) {
			err = fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
		}
		sessionLog.Warnf("⚠️ 登录失败 user=%s silent=%v: %v", creds.Username, creds.Silent(), err)
		s.events.Emit(Event{Kind: EventLoginFailed, Err: err})
		return err
	}

	rotated := res.RefreshToken != "" && res.RefreshToken != creds.RefreshToken
	s.mu.Lock()
	s.identity = res.Identity
	s.accessToken = res.AccessToken
	s.creds = creds
	s.creds.Password = ""
	s.creds.TwoFactorCode = ""
	if rotated {
		s.creds.RefreshToken = res.RefreshToken
	}
	s.mu.Unlock()

	sessionLog.Infof("✅ 登录成功 user=%s identity=%s silent=%v", creds.Username, res.Identity, creds.Silent())
	if rotated {
		s.events.Emit(Event{Kind: EventCredentialRotated, RefreshToken: res.RefreshToken})
	}
	s.events.Emit(Event{Kind: EventWebSession, AccessToken: res.AccessToken})
	return nil
}

// Identity 平台账号 ID；未登录为空
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Authenticated 是否持有有效身份
func (s *Session) Authenticated() bool {
	return s.Identity() != ""
}

// AccessToken 当前 web session token
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken 当前 refresh token
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.RefreshToken
}

func (s *Session) requireIdentity() (string, error) {
	id := s.Identity()
	if id == "" {
		return "", domain.ErrNotAuthenticated
	}
	return id, nil
}

// FetchInventory 直接读取远端库存（不经过缓存）
func (s *Session) FetchInventory(ctx context.Context, key domain.InventoryKey) ([]domain.InventoryItem, error) {
	id, err := s.requireIdentity()
	if err != nil {
		return nil, err
	}
	return s.platform.FetchInventory(ctx, id, key)
}

// CreateOffer 创建并发送报价
func (s *Session) CreateOffer(ctx context.Context, req domain.OfferRequest) (domain.OfferResult, error) {
	if _, err := s.requireIdentity(); err != nil {
		return domain.OfferResult{}, err
	}
	if len(req.Items) == 0 {
		return domain.OfferResult{}, fmt.Errorf("%w: empty offer", domain.ErrItemsUnavailable)
	}
	return s.platform.SendOffer(ctx, req)
}

// GetOffer 查询报价；不存在返回 domain.ErrOfferNotFound
func (s *Session) GetOffer(ctx context.Context, offerID string) (*domain.TradeOffer, error) {
	if _, err := s.requireIdentity(); err != nil {
		return nil, err
	}
	return s.platform.GetOffer(ctx, offerID)
}

// CancelOffer 取消报价；报价已处于不可取消的最终状态时视为成功
func (s *Session) CancelOffer(ctx context.Context, offerID string) error {
	if _, err := s.requireIdentity(); err != nil {
		return err
	}
	err := s.platform.CancelOffer(ctx, offerID)
	if err == nil || errors.Is(err, domain.ErrOfferNotFound) {
		return err
	}
	if offer, gerr := s.platform.GetOffer(ctx, offerID); gerr == nil && !offer.State.Cancellable() {
		return nil
	}
	return err
}

// AcceptOffer 接受报价；报价已处于最终状态时视为成功
func (s *Session) AcceptOffer(ctx context.Context, offerID string) error {
	if _, err := s.requireIdentity(); err != nil {
		return err
	}
	err := s.platform.AcceptOffer(ctx, offerID)
	if err == nil || errors.Is(err, domain.ErrOfferNotFound) {
		return err
	}
	if offer, gerr := s.platform.GetOffer(ctx, offerID); gerr == nil && offer.State.IsTerminal() {
		return nil
	}
	return err
}

// ActiveOffers 进行中的报价（发出 + 收到）
func (s *Session) ActiveOffers(ctx context.Context) ([]domain.TradeOffer, error) {
	if _, err := s.requireIdentity(); err != nil {
		return nil, err
	}
	return s.platform.ListOffers(ctx, true)
}

// Start 启动报价轮询与会话续期循环；重复调用是 no-op
func (s *Session) Start(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.loopCancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel

	if s.cfg.OfferPollInterval > 0 {
		s.loops.Add(func() {
			common.RunTicker(loopCtx, s.cfg.OfferPollInterval, true, nil, s.pollOffers)
		})
	}
	if s.cfg.SessionRefreshInterval > 0 {
		s.loops.Add(func() {
			common.RunTicker(loopCtx, s.cfg.SessionRefreshInterval, false, nil, s.refreshSession)
		})
	}
	s.loops.Run()
}

// Shutdown 停止循环并清空身份
func (s *Session) Shutdown() {
	s.loopMu.Lock()
	cancel := s.loopCancel
	s.loopCancel = nil
	s.loopMu.Unlock()
	if cancel != nil {
		cancel()
		s.loops.WaitAndClear()
	}

	s.mu.Lock()
	s.identity = ""
	s.accessToken = ""
	s.mu.Unlock()

	s.offersMu.Lock()
	s.seenOffers = make(map[string]struct{})
	s.offersMu.Unlock()
	sessionLog.Infof("🛑 交易所会话已关闭")
}

// pollOffers 发现新收到的报价
func (s *Session) pollOffers(ctx context.Context) {
	if !s.Authenticated() {
		return
	}
	offers, err := s.platform.ListOffers(ctx, true)
	if err != nil {
		if ctx.Err() == nil {
			sessionLog.Warnf("⚠️ 轮询报价失败: %v", err)
		}
		return
	}

	var fresh []domain.TradeOffer
	s.offersMu.Lock()
	live := make(map[string]struct{}, len(offers))
	for _, o := range offers {
		if o.IsOurOffer || o.State != domain.OfferStateActive {
			continue
		}
		live[o.ID] = struct{}{}
		if _, ok := s.seenOffers[o.ID]; !ok {
			fresh = append(fresh, o)
		}
	}
	// 只保留仍在进行中的报价，集合不会无限增长
	s.seenOffers = live
	s.offersMu.Unlock()

	for i := range fresh {
		offer := fresh[i]
		sessionLog.Infof("📨 收到新报价 id=%s partner=%s give=%d get=%d", offer.ID, offer.Partner, len(offer.ItemsToGive), len(offer.ItemsToGet))
		s.events.Emit(Event{Kind: EventNewOffer, Offer: &offer})
	}
}

// refreshSession 使用 refresh token 静默续期
func (s *Session) refreshSession(ctx context.Context) {
	s.mu.RLock()
	creds := s.creds
	s.mu.RUnlock()
	if creds.RefreshToken == "" || !s.Authenticated() {
		return
	}
	if err := s.Authenticate(ctx, Credentials{
		Username:     creds.Username,
		RefreshToken: creds.RefreshToken,
		ProxyURL:     creds.ProxyURL,
	}); err != nil && ctx.Err() == nil {
		sessionLog.Warnf("⚠️ 会话续期失败: %v", err)
	}
}
