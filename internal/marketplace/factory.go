// Package marketplace 按平台名构造驱动与连接器
package marketplace

import (
	"fmt"

	"github.com/betbot/tradelink/internal/connector"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/marketplace/marketa"
	"github.com/betbot/tradelink/internal/marketplace/marketb"
	"github.com/betbot/tradelink/internal/marketplace/marketc"
	"github.com/betbot/tradelink/internal/marketplace/marketd"
	"github.com/betbot/tradelink/pkg/config"
	"github.com/betbot/tradelink/pkg/ratelimit"
	sdkhttp "github.com/betbot/tradelink/pkg/sdk/http"
)

// Constructor 驱动构造函数
type Constructor func(apiKey string, cfg config.MarketplaceConfig, opts ...sdkhttp.Option) (connector.Driver, error)

// Factory 平台驱动工厂
type Factory struct {
	cfg          *config.Config
	limits       *ratelimit.RateLimitManager
	constructors map[domain.Marketplace]Constructor
	transport    func(proxyURL string) connector.Transport
}

// NewFactory 创建工厂并注册四个内置平台
func NewFactory(cfg *config.Config, limits *ratelimit.RateLimitManager) *Factory {
	if limits == nil {
		limits = ratelimit.NewRateLimitManager()
	}
	f := &Factory{
		cfg:          cfg,
		limits:       limits,
		constructors: make(map[domain.Marketplace]Constructor, 4),
		transport: func(proxyURL string) connector.Transport {
			return connector.NewWebsocketTransport(proxyURL)
		},
	}
	f.Register(domain.MarketplaceA, func(k string, c config.MarketplaceConfig, o ...sdkhttp.Option) (connector.Driver, error) {
		return marketa.New(k, c, o...)
	})
	f.Register(domain.MarketplaceB, func(k string, c config.MarketplaceConfig, o ...sdkhttp.Option) (connector.Driver, error) {
		return marketb.New(k, c, o...)
	})
	f.Register(domain.MarketplaceC, func(k string, c config.MarketplaceConfig, o ...sdkhttp.Option) (connector.Driver, error) {
		return marketc.New(k, c, o...)
	})
	f.Register(domain.MarketplaceD, func(k string, c config.MarketplaceConfig, o ...sdkhttp.Option) (connector.Driver, error) {
		return marketd.New(k, c, o...)
	})
	return f
}

// Register 注册或替换平台构造函数
func (f *Factory) Register(m domain.Marketplace, ctor Constructor) {
	f.constructors[m] = ctor
}

func limiterEndpoint(m domain.Marketplace) string {
	return ratelimit.EndpointMarketplace + ":" + string(m)
}

// NewDriver 构造驱动；每个平台独立限流
func (f *Factory) NewDriver(m domain.Marketplace, apiKey, proxyURL string) (connector.Driver, error) {
	ctor, ok := f.constructors[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownMarketplace, m)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingAPIKey, m)
	}
	mc, ok := f.cfg.Marketplace(string(m))
	if !ok || mc.BaseURL == "" {
		return nil, fmt.Errorf("marketplace %s 未配置 base_url", m)
	}

	limiter := f.limits.Ensure(limiterEndpoint(m), func() ratelimit.RateLimiter {
		return ratelimit.NewTokenBucket(20, 5)
	})
	return ctor(apiKey, mc, sdkhttp.WithProxy(proxyURL), sdkhttp.WithLimiter(limiter))
}

// NewConnector 构造连接器
func (f *Factory) NewConnector(m domain.Marketplace, apiKey, proxyURL string) (*connector.Connector, error) {
	d, err := f.NewDriver(m, apiKey, proxyURL)
	if err != nil {
		return nil, err
	}
	return connector.New(d, f.transport(proxyURL)), nil
}
