// Package marketa 平台 A：websocket 推送销售，REST 探测与回报
package marketa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/betbot/tradelink/internal/connector"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/pkg/config"
	sdkhttp "github.com/betbot/tradelink/pkg/sdk/http"
	"github.com/shopspring/decimal"
)

var _ connector.PushDriver = (*Driver)(nil)

// Driver 平台 A
type Driver struct {
	apiKey    string
	streamURL string
	cfg       config.MarketplaceConfig
	client    *sdkhttp.Client
}

// New 创建驱动；cfg.BaseURL 必填，StreamURL 为空时由服务端下发
func New(apiKey string, cfg config.MarketplaceConfig, opts ...sdkhttp.Option) (*Driver, error) {
	if apiKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("marketa: base_url 未配置")
	}
	opts = append([]sdkhttp.Option{sdkhttp.WithHeader("Authorization", apiKey)}, opts...)
	return &Driver{
		apiKey:    apiKey,
		streamURL: cfg.StreamURL,
		cfg:       cfg,
		client:    sdkhttp.NewClient(cfg.BaseURL, opts...),
	}, nil
}

func (d *Driver) Marketplace() domain.Marketplace { return domain.MarketplaceA }
func (d *Driver) ProbeInterval() time.Duration    { return d.cfg.ProbeInterval }
func (d *Driver) ReconnectDelay() time.Duration   { return d.cfg.ReconnectDelay }

type meResponse struct {
	Online  bool            `json:"online"`
	Balance decimal.Decimal `json:"balance"`
}

// Probe 推送交易所 token，再读取账户状态
func (d *Driver) Probe(ctx context.Context, exchangeToken string) (connector.ProbeResult, error) {
	if exchangeToken != "" {
		if err := d.client.Do(ctx, http.MethodPost, "/api/v2/exchange-token", &sdkhttp.RequestOptions{
			Data: map[string]string{"token": exchangeToken},
		}, nil); err != nil {
			return connector.ProbeResult{}, fmt.Errorf("push exchange token: %w", err)
		}
	}
	var me meResponse
	if err := d.client.Do(ctx, http.MethodGet, "/api/v2/me", nil, &me); err != nil {
		return connector.ProbeResult{}, fmt.Errorf("me: %w", err)
	}
	return connector.ProbeResult{Online: me.Online, Balance: me.Balance}, nil
}

type wsAuthResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// Endpoint 先换取一次性 websocket token
func (d *Driver) Endpoint(ctx context.Context) (connector.Endpoint, error) {
	var auth wsAuthResponse
	if err := d.client.Do(ctx, http.MethodGet, "/api/v2/ws-auth", nil, &auth); err != nil {
		return connector.Endpoint{}, err
	}
	base := d.streamURL
	if base == "" {
		base = auth.URL
	}
	if base == "" {
		return connector.Endpoint{}, fmt.Errorf("marketa: 没有 websocket 地址")
	}
	u, err := url.Parse(base)
	if err != nil {
		return connector.Endpoint{}, fmt.Errorf("marketa: 无效的 websocket 地址: %w", err)
	}
	q := u.Query()
	q.Set("token", auth.Token)
	u.RawQuery = q.Encode()
	return connector.Endpoint{URL: u.String()}, nil
}

// 推送消息
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type saleData struct {
	SaleID   string `json:"sale_id"`
	TradeURL string `json:"trade_url"`
	Message  string `json:"message"`
	Items    []struct {
		AppID     json.Number `json:"app_id"`
		ContextID json.Number `json:"context_id"`
		AssetID   string      `json:"asset_id"`
		ClassID   string      `json:"class_id"`
		Instance  string      `json:"instance_id"`
		Name      string      `json:"market_hash_name"`
	} `json:"items"`
}

type offerData struct {
	OfferID string `json:"offer_id"`
}

// Decode 解析推送消息；未知类型（心跳等）返回空 Feed
func (d *Driver) Decode(msg []byte) (connector.Feed, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return connector.Feed{}, err
	}
	switch env.Type {
	case "send_trade":
		var s saleData
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return connector.Feed{}, fmt.Errorf("send_trade: %w", err)
		}
		sale := domain.Sale{
			Marketplace:   domain.MarketplaceA,
			SaleID:        s.SaleID,
			RecipientLink: s.TradeURL,
			Message:       s.Message,
		}
		for _, it := range s.Items {
			sale.RequestedItems = append(sale.RequestedItems, domain.RequestedItem{
				CollectionID: it.AppID.String(),
				SubID:        it.ContextID.String(),
				AssetID:      it.AssetID,
				ClassID:      it.ClassID,
				InstanceID:   it.Instance,
				Name:         it.Name,
			})
		}
		return connector.Feed{Sales: []domain.Sale{sale}}, nil
	case "cancel_trade", "accept_withdraw":
		var o offerData
		if err := json.Unmarshal(env.Data, &o); err != nil {
			return connector.Feed{}, fmt.Errorf("%s: %w", env.Type, err)
		}
		if o.OfferID == "" {
			return connector.Feed{}, fmt.Errorf("%s: 缺少 offer_id", env.Type)
		}
		if env.Type == "cancel_trade" {
			return connector.Feed{Cancels: []string{o.OfferID}}, nil
		}
		return connector.Feed{Accepts: []string{o.OfferID}}, nil
	default:
		return connector.Feed{}, nil
	}
}

// Report steam-trade 回报
func (d *Driver) Report(ctx context.Context, saleID, offerID string) error {
	return d.client.Do(ctx, http.MethodPost, "/api/v2/steam-trade", &sdkhttp.RequestOptions{
		Data: map[string]string{"sale_id": saleID, "offer_id": offerID},
	}, nil)
}
