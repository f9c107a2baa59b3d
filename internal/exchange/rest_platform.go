package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/pkg/ratelimit"
	sdkhttp "github.com/betbot/tradelink/pkg/sdk/http"
)

// RESTPlatform 通过 HTTP 网关访问托管交易平台
type RESTPlatform struct {
	client *sdkhttp.Client
	limits *ratelimit.RateLimitManager

	mu    sync.RWMutex
	token string
}

// NewRESTPlatform 创建客户端；proxyURL 为空则直连
func NewRESTPlatform(baseURL, proxyURL string, limits *ratelimit.RateLimitManager, opts ...sdkhttp.Option) *RESTPlatform {
	if limits == nil {
		limits = ratelimit.NewRateLimitManager()
	}
	opts = append([]sdkhttp.Option{sdkhttp.WithProxy(proxyURL)}, opts...)
	return &RESTPlatform{
		client: sdkhttp.NewClient(baseURL, opts...),
		limits: limits,
	}
}

func (p *RESTPlatform) authHeaders() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.token}
}

func (p *RESTPlatform) do(ctx context.Context, endpoint, method, path string, body any, out any) error {
	return p.send(ctx, endpoint, method, path, &sdkhttp.RequestOptions{Data: body}, out)
}

func (p *RESTPlatform) send(ctx context.Context, endpoint, method, path string, opt *sdkhttp.RequestOptions, out any) error {
	if err := p.limits.Wait(ctx, endpoint); err != nil {
		return err
	}
	opt.Headers = p.authHeaders()
	return p.client.Do(ctx, method, path, opt, out)
}

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password,omitempty"`
	TwoFactorCode string `json:"two_factor_code,omitempty"`
	RefreshToken  string `json:"refresh_token,omitempty"`
}

// Login 登录；成功后后续请求携带 access token
func (p *RESTPlatform) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	var res LoginResult
	err := p.do(ctx, ratelimit.EndpointExchangeAuth, http.MethodPost, "/auth/login", loginRequest{
		Username:      creds.Username,
		Password:      creds.Password,
		TwoFactorCode: creds.TwoFactorCode,
		RefreshToken:  creds.RefreshToken,
	}, &res)
	if err != nil {
		return LoginResult{}, err
	}
	p.mu.Lock()
	p.token = res.AccessToken
	p.mu.Unlock()
	return res, nil
}

type inventoryResponse struct {
	Items []json.RawMessage `json:"items"`
}

type wireItem struct {
	AssetID    string `json:"asset_id"`
	ClassID    string `json:"class_id"`
	InstanceID string `json:"instance_id"`
	Name       string `json:"name"`
	Tradable   bool   `json:"tradable"`
}

// FetchInventory 读取库存，保留每件物品的原始 JSON
func (p *RESTPlatform) FetchInventory(ctx context.Context, identity string, key domain.InventoryKey) ([]domain.InventoryItem, error) {
	var resp inventoryResponse
	path := fmt.Sprintf("/inventory/%s/%s/%s", url.PathEscape(identity), url.PathEscape(key.CollectionID), url.PathEscape(key.SubID))
	if err := p.do(ctx, ratelimit.EndpointExchangeInventory, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	now := time.Now()
	items := make([]domain.InventoryItem, 0, len(resp.Items))
	for i, raw := range resp.Items {
		var w wireItem
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode inventory item %d: %w", i, err)
		}
		if w.AssetID == "" {
			continue
		}
		items = append(items, domain.InventoryItem{
			CollectionID: key.CollectionID,
			SubID:        key.SubID,
			AssetID:      w.AssetID,
			ClassID:      w.ClassID,
			InstanceID:   w.InstanceID,
			Name:         w.Name,
			Tradable:     w.Tradable,
			Raw:          append(json.RawMessage(nil), raw...),
			Position:     i,
			RefreshedAt:  now,
		})
	}
	return items, nil
}

type sendOfferRequest struct {
	PartnerLink string         `json:"partner_link"`
	Items       []domain.Asset `json:"items"`
	Message     string         `json:"message,omitempty"`
}

type sendOfferResponse struct {
	OfferID           string `json:"offer_id"`
	NeedsConfirmation bool   `json:"needs_confirmation"`
}

// SendOffer 发送报价，只发一次（重放可能生成重复报价）；409/410 视为物品不可用
func (p *RESTPlatform) SendOffer(ctx context.Context, req domain.OfferRequest) (domain.OfferResult, error) {
	var resp sendOfferResponse
	err := p.send(ctx, ratelimit.EndpointExchangeOffers, http.MethodPost, "/offers", &sdkhttp.RequestOptions{
		Data: sendOfferRequest{
			PartnerLink: req.RecipientLink,
			Items:       req.Items,
			Message:     req.Message,
		},
		NoRetry: true,
	}, &resp)
	if err != nil {
		var he *sdkhttp.HTTPError
		if errors.As(err, &he) && (he.StatusCode == http.StatusConflict || he.StatusCode == http.StatusGone) {
			return domain.OfferResult{}, fmt.Errorf("%w: %v", domain.ErrItemsUnavailable, err)
		}
		return domain.OfferResult{}, err
	}
	if resp.OfferID == "" {
		return domain.OfferResult{}, fmt.Errorf("%w: empty offer id", domain.ErrTransient)
	}
	return domain.OfferResult{OfferID: resp.OfferID, NeedsConfirmation: resp.NeedsConfirmation}, nil
}

func offerErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrOfferNotFound, err)
	}
	return err
}

// GetOffer 查询报价
func (p *RESTPlatform) GetOffer(ctx context.Context, offerID string) (*domain.TradeOffer, error) {
	var offer domain.TradeOffer
	if err := p.do(ctx, ratelimit.EndpointExchangeOffers, http.MethodGet, "/offers/"+url.PathEscape(offerID), nil, &offer); err != nil {
		return nil, offerErr(err)
	}
	return &offer, nil
}

// CancelOffer 取消报价
func (p *RESTPlatform) CancelOffer(ctx context.Context, offerID string) error {
	return offerErr(p.do(ctx, ratelimit.EndpointExchangeOffers, http.MethodPost, "/offers/"+url.PathEscape(offerID)+"/cancel", nil, nil))
}

// AcceptOffer 接受报价
func (p *RESTPlatform) AcceptOffer(ctx context.Context, offerID string) error {
	return offerErr(p.do(ctx, ratelimit.EndpointExchangeOffers, http.MethodPost, "/offers/"+url.PathEscape(offerID)+"/accept", nil, nil))
}

type listOffersResponse struct {
	Sent     []domain.TradeOffer `json:"sent"`
	Received []domain.TradeOffer `json:"received"`
}

// ListOffers 发出 + 收到的报价
func (p *RESTPlatform) ListOffers(ctx context.Context, activeOnly bool) ([]domain.TradeOffer, error) {
	var resp listOffersResponse
	path := "/offers"
	if activeOnly {
		path += "?active_only=true"
	}
	if err := p.do(ctx, ratelimit.EndpointExchangeOffers, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.TradeOffer, 0, len(resp.Sent)+len(resp.Received))
	for _, o := range resp.Sent {
		o.IsOurOffer = true
		out = append(out, o)
	}
	for _, o := range resp.Received {
		o.IsOurOffer = false
		out = append(out, o)
	}
	return out, nil
}
