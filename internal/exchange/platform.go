package exchange

import (
	"context"

	"github.com/betbot/tradelink/internal/domain"
)

// Credentials 登录凭证
// Password 为空且 RefreshToken 非空时为静默续期
type Credentials struct {
	Username      string
	Password      string
	TwoFactorCode string
	RefreshToken  string
	ProxyURL      string
}

// Silent 是否为 refresh token 静默登录
func (c Credentials) Silent() bool {
	return c.Password == "" && c.RefreshToken != ""
}

// LoginResult 登录结果
type LoginResult struct {
	Identity     string `json:"identity"`
	AccessToken  string `json:"access_token"`  // web session token，推送给各平台
	RefreshToken string `json:"refresh_token"` // 平台可能轮换
	AvatarURL    string `json:"avatar_url"`
}

// Platform 托管交易平台客户端
type Platform interface {
	Login(ctx context.Context, creds Credentials) (LoginResult, error)
	FetchInventory(ctx context.Context, identity string, key domain.InventoryKey) ([]domain.InventoryItem, error)
	SendOffer(ctx context.Context, req domain.OfferRequest) (domain.OfferResult, error)
	GetOffer(ctx context.Context, offerID string) (*domain.TradeOffer, error)
	CancelOffer(ctx context.Context, offerID string) error
	AcceptOffer(ctx context.Context, offerID string) error
	// ListOffers 返回我方发出与收到的报价；activeOnly 只返回仍在进行中的
	ListOffers(ctx context.Context, activeOnly bool) ([]domain.TradeOffer, error)
}
