package events

import (
	"time"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/google/uuid"
)

// Event 账号协调器对外转发的生命周期事件
type Event interface {
	Kind() string
}

// Meta 公共字段
type Meta struct {
	ID        string
	Account   string
	Timestamp time.Time
}

// NewMeta 生成事件元信息
func NewMeta(account string) Meta {
	return Meta{ID: uuid.NewString(), Account: account, Timestamp: time.Now()}
}

// OfferCreatedEvent 报价已创建并发送
type OfferCreatedEvent struct {
	Meta
	Marketplace       domain.Marketplace
	SaleID            string
	OfferID           string
	NeedsConfirmation bool
}

func (OfferCreatedEvent) Kind() string { return "offer_created" }

// SaleSkippedEvent 销售未处理（重复、物品不可用、冲突、暂停等）
type SaleSkippedEvent struct {
	Meta
	Marketplace domain.Marketplace
	SaleID      string
	Reason      string
}

func (SaleSkippedEvent) Kind() string { return "sale_skipped" }

// OfferCanceledEvent 报价已取消（或已不可取消）
type OfferCanceledEvent struct {
	Meta
	OfferID string
}

func (OfferCanceledEvent) Kind() string { return "offer_canceled" }

// OfferAcceptedEvent 报价已接受
type OfferAcceptedEvent struct {
	Meta
	OfferID string
	Gift    bool
}

func (OfferAcceptedEvent) Kind() string { return "offer_accepted" }

// ConnectorStateChangedEvent 平台连接器在线状态变化（不做去重）
type ConnectorStateChangedEvent struct {
	Meta
	Marketplace domain.Marketplace
	Online      bool
}

func (ConnectorStateChangedEvent) Kind() string { return "connector_state_changed" }

// ErrorEvent 非致命错误；Fatal 表示连接器因此被停止
type ErrorEvent struct {
	Meta
	Marketplace domain.Marketplace
	Error       string
	Fatal       bool
}

func (ErrorEvent) Kind() string { return "error" }
