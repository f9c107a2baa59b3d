// Package marketc 平台 C：websocket 推送，消息体为二次编码的 JSON 字符串
package marketc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/betbot/tradelink/internal/connector"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/pkg/config"
	sdkhttp "github.com/betbot/tradelink/pkg/sdk/http"
	"github.com/shopspring/decimal"
)

var _ connector.PushDriver = (*Driver)(nil)

// Driver 平台 C
type Driver struct {
	apiKey string
	cfg    config.MarketplaceConfig
	client *sdkhttp.Client
}

// New 创建驱动；StreamURL 必填
func New(apiKey string, cfg config.MarketplaceConfig, opts ...sdkhttp.Option) (*Driver, error) {
	if apiKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	if cfg.BaseURL == "" || cfg.StreamURL == "" {
		return nil, fmt.Errorf("marketc: base_url 和 stream_url 都必须配置")
	}
	return &Driver{apiKey: apiKey, cfg: cfg, client: sdkhttp.NewClient(cfg.BaseURL, opts...)}, nil
}

func (d *Driver) Marketplace() domain.Marketplace { return domain.MarketplaceC }
func (d *Driver) ProbeInterval() time.Duration    { return d.cfg.ProbeInterval }
func (d *Driver) ReconnectDelay() time.Duration   { return d.cfg.ReconnectDelay }

// 平台 C 的错误通过 success=false 返回，HTTP 状态仍为 200
type apiResult struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Online  bool            `json:"online"`
	Money   decimal.Decimal `json:"money"`
}

func (r apiResult) err() error {
	if r.Success {
		return nil
	}
	msg := strings.ToLower(r.Error)
	if strings.Contains(msg, "key") || strings.Contains(msg, "auth") {
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, r.Error)
	}
	return fmt.Errorf("marketc: %s", r.Error)
}

func (d *Driver) Probe(ctx context.Context, exchangeToken string) (connector.ProbeResult, error) {
	params := map[string]any{"key": d.apiKey}
	if exchangeToken != "" {
		params["token"] = exchangeToken
	}
	var res apiResult
	if err := d.client.Do(ctx, http.MethodGet, "/api/ping", &sdkhttp.RequestOptions{Params: params}, &res); err != nil {
		return connector.ProbeResult{}, err
	}
	if err := res.err(); err != nil {
		return connector.ProbeResult{}, err
	}
	return connector.ProbeResult{Online: res.Online, Balance: res.Money}, nil
}

func (d *Driver) Endpoint(context.Context) (connector.Endpoint, error) {
	u, err := url.Parse(d.cfg.StreamURL)
	if err != nil {
		return connector.Endpoint{}, fmt.Errorf("marketc: 无效的 websocket 地址: %w", err)
	}
	q := u.Query()
	q.Set("key", d.apiKey)
	u.RawQuery = q.Encode()
	return connector.Endpoint{URL: u.String()}, nil
}

type message struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

type newSale struct {
	SaleID  int64  `json:"sale_id"`
	Partner string `json:"partner_trade_url"`
	Assets  []struct {
		App     string `json:"app"`
		Context string `json:"ctx"`
		ID      string `json:"id"`
		Class   string `json:"class"`
	} `json:"assets"`
}

type offerRef struct {
	TradeOfferID string `json:"tradeofferid"`
}

func (d *Driver) Decode(msg []byte) (connector.Feed, error) {
	var m message
	if err := json.Unmarshal(msg, &m); err != nil {
		return connector.Feed{}, err
	}
	switch m.Event {
	case "new_sale":
		var s newSale
		if err := json.Unmarshal([]byte(m.Payload), &s); err != nil {
			return connector.Feed{}, fmt.Errorf("new_sale payload: %w", err)
		}
		sale := domain.Sale{
			Marketplace:   domain.MarketplaceC,
			SaleID:        fmt.Sprintf("%d", s.SaleID),
			RecipientLink: s.Partner,
		}
		for _, a := range s.Assets {
			sale.RequestedItems = append(sale.RequestedItems, domain.RequestedItem{
				CollectionID: a.App, SubID: a.Context, AssetID: a.ID, ClassID: a.Class,
			})
		}
		return connector.Feed{Sales: []domain.Sale{sale}}, nil
	case "sale_canceled", "withdraw_ready":
		var ref offerRef
		if err := json.Unmarshal([]byte(m.Payload), &ref); err != nil {
			return connector.Feed{}, fmt.Errorf("%s payload: %w", m.Event, err)
		}
		if m.Event == "sale_canceled" {
			return connector.Feed{Cancels: []string{ref.TradeOfferID}}, nil
		}
		return connector.Feed{Accepts: []string{ref.TradeOfferID}}, nil
	default:
		return connector.Feed{}, nil
	}
}

// Report registerTradeOffer
func (d *Driver) Report(ctx context.Context, saleID, offerID string) error {
	var res apiResult
	if err := d.client.Do(ctx, http.MethodPost, "/api/register-trade", &sdkhttp.RequestOptions{
		Params: map[string]any{"key": d.apiKey},
		Data:   map[string]string{"sale_id": saleID, "tradeofferid": offerID},
	}, &res); err != nil {
		return err
	}
	return res.err()
}
