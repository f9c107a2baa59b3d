// Package marketb 平台 B：短间隔轮询待处理交易
package marketb

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/betbot/tradelink/internal/connector"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/pkg/config"
	sdkhttp "github.com/betbot/tradelink/pkg/sdk/http"
	"github.com/shopspring/decimal"
)

var _ connector.PollDriver = (*Driver)(nil)

// Driver 平台 B
type Driver struct {
	cfg    config.MarketplaceConfig
	client *sdkhttp.Client
}

// New 创建驱动
func New(apiKey string, cfg config.MarketplaceConfig, opts ...sdkhttp.Option) (*Driver, error) {
	if apiKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("marketb: base_url 未配置")
	}
	opts = append([]sdkhttp.Option{sdkhttp.WithHeader("X-Api-Key", apiKey)}, opts...)
	return &Driver{cfg: cfg, client: sdkhttp.NewClient(cfg.BaseURL, opts...)}, nil
}

func (d *Driver) Marketplace() domain.Marketplace { return domain.MarketplaceB }
func (d *Driver) ProbeInterval() time.Duration    { return d.cfg.ProbeInterval }
func (d *Driver) ReconnectDelay() time.Duration   { return d.cfg.ReconnectDelay }

func (d *Driver) PollInterval() time.Duration {
	if d.cfg.PollInterval <= 0 {
		return 5 * time.Second
	}
	return d.cfg.PollInterval
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
	CanSell bool            `json:"can_sell"`
}

func (d *Driver) Probe(ctx context.Context, exchangeToken string) (connector.ProbeResult, error) {
	if exchangeToken != "" {
		if err := d.client.Do(ctx, http.MethodPost, "/v1/exchange-token", &sdkhttp.RequestOptions{
			Data: map[string]string{"access_token": exchangeToken},
		}, nil); err != nil {
			return connector.ProbeResult{}, fmt.Errorf("push exchange token: %w", err)
		}
	}
	var b balanceResponse
	if err := d.client.Do(ctx, http.MethodGet, "/v1/account/balance", nil, &b); err != nil {
		return connector.ProbeResult{}, fmt.Errorf("balance: %w", err)
	}
	return connector.ProbeResult{Online: b.CanSell, Balance: b.Balance}, nil
}

type pendingItem struct {
	AppID     string `json:"appid"`
	ContextID string `json:"contextid"`
	AssetID   string `json:"assetid"`
	ClassID   string `json:"classid"`
	Instance  string `json:"instanceid"`
}

type pendingSale struct {
	ID        string        `json:"id"`
	TradeLink string        `json:"trade_link"`
	Comment   string        `json:"comment"`
	Items     []pendingItem `json:"items"`
}

type pendingResponse struct {
	Send     []pendingSale `json:"send"`
	Cancel   []string      `json:"cancel"`
	Withdraw []string      `json:"withdraw"`
}

// Poll 读取待处理交易
func (d *Driver) Poll(ctx context.Context) (connector.Feed, error) {
	var resp pendingResponse
	if err := d.client.Do(ctx, http.MethodGet, "/v1/trades/pending", nil, &resp); err != nil {
		return connector.Feed{}, err
	}
	feed := connector.Feed{Cancels: resp.Cancel, Accepts: resp.Withdraw}
	for _, s := range resp.Send {
		sale := domain.Sale{
			Marketplace:   domain.MarketplaceB,
			SaleID:        s.ID,
			RecipientLink: s.TradeLink,
			Message:       s.Comment,
		}
		for _, it := range s.Items {
			sale.RequestedItems = append(sale.RequestedItems, domain.RequestedItem{
				CollectionID: it.AppID,
				SubID:        it.ContextID,
				AssetID:      it.AssetID,
				ClassID:      it.ClassID,
				InstanceID:   it.Instance,
			})
		}
		feed.Sales = append(feed.Sales, sale)
	}
	return feed, nil
}

// Report reportTradeOffer
func (d *Driver) Report(ctx context.Context, saleID, offerID string) error {
	return d.client.Do(ctx, http.MethodPost, "/v1/trades/"+saleID+"/report", &sdkhttp.RequestOptions{
		Data: map[string]string{"trade_offer_id": offerID},
	}, nil)
}
