package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/exchange"
	"github.com/betbot/tradelink/internal/orchestrator"
	"github.com/betbot/tradelink/internal/ports"
	"github.com/betbot/tradelink/pkg/config"
	"github.com/betbot/tradelink/pkg/persistence"
	"github.com/sirupsen/logrus"
)

var registryLog = logrus.WithField("component", "registry")

// PlatformFactory 按代理构造交易所平台客户端
type PlatformFactory func(proxyURL string) exchange.Platform

// Deps 注册表依赖
type Deps struct {
	Config      *config.Config
	Accounts    ports.AccountStore
	Inventory   ports.InventoryStore
	Persistence persistence.Service
	Platforms   PlatformFactory
	Connectors  ConnectorFactory
	Notifier    ports.Notifier
	Appender    ports.NumberAppender
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"two_factor_code"`
	ProxyURL      string `json:"proxy_url"`
}

// Registry 进程内的协调器注册表（每个账号一个）
type Registry struct {
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	coordinators map[string]*Coordinator
	loginMu      sync.Mutex
}

// NewRegistry 创建注册表
func NewRegistry(deps Deps) *Registry {
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:         deps,
		ctx:          ctx,
		cancel:       cancel,
		coordinators: make(map[string]*Coordinator),
	}
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Get 按用户名查找协调器
func (r *Registry) Get(username string) (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coordinators[normalizeUsername(username)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCoordinatorNotFound, username)
	}
	return c, nil
}

// List 已登录的用户名（排序）
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.coordinators))
	for name := range r.coordinators {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Login 完整登录；同名账号已登录时先关闭旧协调器
func (r *Registry) Login(ctx context.Context, req LoginRequest) (*Coordinator, error) {
	username := normalizeUsername(req.Username)
	if username == "" || req.Password == "" {
		return nil, errors.New("username and password are required")
	}
	r.loginMu.Lock()
	defer r.loginMu.Unlock()

	if old := r.detach(username); old != nil {
		old.Close()
	}

	account, err := r.deps.Accounts.FindByUsername(ctx, username)
	if errors.Is(err, domain.ErrAccountNotFound) {
		account, err = domain.NewAccount(username), nil
	}
	if err != nil {
		return nil, err
	}
	if req.ProxyURL != "" {
		account.ProxyURL = req.ProxyURL
	}
	return r.open(ctx, account, exchange.Credentials{
		Username:      username,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
		ProxyURL:      r.proxyFor(account),
	})
}

// Restore 进程启动时用 refresh token 静默登录全部已保存账号，并恢复之前在运行的平台
func (r *Registry) Restore(ctx context.Context) error {
	accounts, err := r.deps.Accounts.List(ctx)
	if err != nil {
		return err
	}
	r.loginMu.Lock()
	defer r.loginMu.Unlock()

	restored := 0
	for _, account := range accounts {
		if account.RefreshToken == "" {
			registryLog.Infof("⏭️ 账号 %s 没有 refresh token，等待手动登录", account.Username)
			continue
		}
		if _, err := r.open(ctx, account, exchange.Credentials{
			Username:     account.Username,
			RefreshToken: account.RefreshToken,
			ProxyURL:     r.proxyFor(account),
		}); err != nil {
			registryLog.Warnf("⚠️ 恢复账号 %s 失败: %v", account.Username, err)
			if r.deps.Notifier != nil {
				r.deps.Notifier.Notify("账号恢复失败", fmt.Sprintf("%s 需要重新登录: %v", account.Username, err))
			}
			continue
		}
		restored++
	}
	registryLog.Infof("✅ 已恢复 %d/%d 个账号", restored, len(accounts))
	return nil
}

func (r *Registry) proxyFor(account *domain.Account) string {
	if account.ProxyURL != "" {
		return account.ProxyURL
	}
	return r.deps.Config.Proxy
}

// open 组装协调器、认证并启动；调用方持有 loginMu
func (r *Registry) open(ctx context.Context, account *domain.Account, creds exchange.Credentials) (*Coordinator, error) {
	cfg := r.deps.Config
	records, err := orchestrator.OpenOfferRecords(r.deps.Persistence, account.Username, cfg.Orchestrator.OfferRecordLimit)
	if err != nil {
		return nil, fmt.Errorf("open offer records: %w", err)
	}
	session := exchange.NewSession(r.deps.Platforms(creds.ProxyURL), exchange.SessionConfig{
		OfferPollInterval:      cfg.Exchange.OfferPollInterval,
		SessionRefreshInterval: cfg.Exchange.SessionRefreshInterval,
	})
	c := newCoordinator(r.ctx, coordinatorDeps{
		cfg:       cfg,
		accounts:  r.deps.Accounts,
		inventory: r.deps.Inventory,
		records:   records,
		factory:   r.deps.Connectors,
		notifier:  r.deps.Notifier,
		appender:  r.deps.Appender,
	}, account, session)

	if err := session.Authenticate(ctx, creds); err != nil {
		c.shutdown()
		return nil, err
	}

	c.mu.Lock()
	c.account.Identity = session.Identity()
	if rt := session.RefreshToken(); rt != "" {
		c.account.RefreshToken = rt
	}
	saveErr := c.saveLocked()
	c.mu.Unlock()
	if saveErr != nil {
		c.shutdown()
		return nil, saveErr
	}

	c.start()
	r.mu.Lock()
	r.coordinators[c.username] = c
	r.mu.Unlock()
	c.resumeMarketplaces(ctx)
	return c, nil
}

func (r *Registry) detach(username string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.coordinators[username]
	delete(r.coordinators, username)
	return c
}

// Logout 登出并删除账号数据
func (r *Registry) Logout(ctx context.Context, username string) error {
	c := r.detach(normalizeUsername(username))
	if c == nil {
		return fmt.Errorf("%w: %s", domain.ErrCoordinatorNotFound, username)
	}
	return c.Logout(ctx)
}

// Close 关闭全部协调器（保留账号与运行标志）
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Coordinator, 0, len(r.coordinators))
	for name, c := range r.coordinators {
		all = append(all, c)
		delete(r.coordinators, name)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
	r.cancel()
}
