package domain

import "time"

// OfferState 交易报价状态（交易所侧）
type OfferState string

const (
	OfferStateInvalid           OfferState = "invalid"
	OfferStateActive            OfferState = "active"             // 已发出，等待对方处理
	OfferStateAccepted          OfferState = "accepted"           // 已成交
	OfferStateCountered         OfferState = "countered"          // 对方还价
	OfferStateExpired           OfferState = "expired"            // 已过期
	OfferStateCanceled          OfferState = "canceled"           // 已取消
	OfferStateDeclined          OfferState = "declined"           // 对方拒绝
	OfferStateInvalidItems      OfferState = "invalid_items"      // 物品已失效
	OfferStateNeedsConfirmation OfferState = "needs_confirmation" // 等待设备确认
	OfferStateInEscrow          OfferState = "in_escrow"          // 托管期
)

// Cancellable 是否仍可取消
func (s OfferState) Cancellable() bool {
	switch s {
	case OfferStateActive, OfferStateNeedsConfirmation, OfferStateInEscrow:
		return true
	}
	return false
}

// Acceptable 是否仍可接受（仅对收到的报价有意义）
func (s OfferState) Acceptable() bool {
	return s == OfferStateActive
}

// IsTerminal 是否为最终状态
func (s OfferState) IsTerminal() bool {
	switch s {
	case OfferStateAccepted, OfferStateExpired, OfferStateCanceled, OfferStateDeclined,
		OfferStateInvalidItems, OfferStateCountered, OfferStateInvalid:
		return true
	}
	return false
}

// Asset 报价中的一件物品
type Asset struct {
	CollectionID string `json:"collection_id"`
	SubID        string `json:"sub_id"`
	AssetID      string `json:"asset_id"`
	Amount       int    `json:"amount,omitempty"`
}

// TradeOffer 交易所报价快照
type TradeOffer struct {
	ID          string     `json:"id"`
	Partner     string     `json:"partner"`
	Message     string     `json:"message,omitempty"`
	State       OfferState `json:"state"`
	IsOurOffer  bool       `json:"is_our_offer"` // 我方发出
	ItemsToGive []Asset    `json:"items_to_give,omitempty"`
	ItemsToGet  []Asset    `json:"items_to_receive,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Contains 报价是否包含某个资产（任一方向）
func (o *TradeOffer) Contains(assetID string) bool {
	for _, a := range o.ItemsToGive {
		if a.AssetID == assetID {
			return true
		}
	}
	for _, a := range o.ItemsToGet {
		if a.AssetID == assetID {
			return true
		}
	}
	return false
}

// IsGift 对方送礼（我方不给出任何物品）
func (o *TradeOffer) IsGift() bool {
	return !o.IsOurOffer && len(o.ItemsToGive) == 0 && len(o.ItemsToGet) > 0
}

// OfferRequest 创建报价请求
type OfferRequest struct {
	RecipientLink string  // 对方交易链接
	Items         []Asset // 我方给出
	Message       string
}

// OfferResult 创建报价结果；NeedsConfirmation 与已发送都视为成功
type OfferResult struct {
	OfferID           string
	NeedsConfirmation bool
}

// OfferRecord 报价 → 销售 的关联，用于幂等
type OfferRecord struct {
	OfferID           string      `json:"offer_id"`
	Marketplace       Marketplace `json:"marketplace"`
	SaleID            string      `json:"sale_id"`
	NeedsConfirmation bool        `json:"needs_confirmation"`
	CreatedAt         time.Time   `json:"created_at"`
}
