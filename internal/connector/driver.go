package connector

import (
	"context"
	"net/http"
	"time"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/shopspring/decimal"
)

// ProbeResult 平台在线探测结果
type ProbeResult struct {
	Online  bool
	Balance decimal.Decimal // 平台账户余额（不支持时为 0）
}

// Feed 一次推送消息或一次轮询解码出的信号
type Feed struct {
	Sales   []domain.Sale
	Cancels []string // 平台要求撤销的报价 ID
	Accepts []string // 平台要求接受的（提现）报价 ID
}

// Empty 是否没有任何信号
func (f Feed) Empty() bool {
	return len(f.Sales) == 0 && len(f.Cancels) == 0 && len(f.Accepts) == 0
}

// Driver 平台驱动：每个平台只实现协议差异，生命周期由 Connector 统一管理
type Driver interface {
	Marketplace() domain.Marketplace
	// ProbeInterval 在线探测间隔
	ProbeInterval() time.Duration
	// ReconnectDelay 推送断线或轮询失败后的固定等待
	ReconnectDelay() time.Duration
	// Probe 推送当前交易所 access token 并读取在线状态
	Probe(ctx context.Context, exchangeToken string) (ProbeResult, error)
	// Report 向平台回报 销售 → 报价
	Report(ctx context.Context, saleID, offerID string) error
}

// Endpoint 推送连接信息
type Endpoint struct {
	URL    string
	Header http.Header
}

// PushDriver 推送型平台（websocket）
type PushDriver interface {
	Driver
	Endpoint(ctx context.Context) (Endpoint, error)
	Decode(msg []byte) (Feed, error)
}

// PollDriver 轮询型平台
type PollDriver interface {
	Driver
	PollInterval() time.Duration
	Poll(ctx context.Context) (Feed, error)
}
