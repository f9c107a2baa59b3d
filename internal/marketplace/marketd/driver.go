// Package marketd 平台 D：按游标轮询事件流
package marketd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/betbot/tradelink/internal/connector"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/pkg/config"
	sdkhttp "github.com/betbot/tradelink/pkg/sdk/http"
	"github.com/shopspring/decimal"
)

var _ connector.PollDriver = (*Driver)(nil)

// Driver 平台 D
type Driver struct {
	cfg    config.MarketplaceConfig
	client *sdkhttp.Client

	mu     sync.Mutex
	cursor int64
}

// New 创建驱动
func New(apiKey string, cfg config.MarketplaceConfig, opts ...sdkhttp.Option) (*Driver, error) {
	if apiKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("marketd: base_url 未配置")
	}
	opts = append([]sdkhttp.Option{sdkhttp.WithHeader("Authorization", "Bearer "+apiKey)}, opts...)
	return &Driver{cfg: cfg, client: sdkhttp.NewClient(cfg.BaseURL, opts...)}, nil
}

func (d *Driver) Marketplace() domain.Marketplace { return domain.MarketplaceD }
func (d *Driver) ProbeInterval() time.Duration    { return d.cfg.ProbeInterval }
func (d *Driver) ReconnectDelay() time.Duration   { return d.cfg.ReconnectDelay }

func (d *Driver) PollInterval() time.Duration {
	if d.cfg.PollInterval <= 0 {
		return 10 * time.Second
	}
	return d.cfg.PollInterval
}

type profile struct {
	Status  string          `json:"status"`
	Balance decimal.Decimal `json:"balance"`
}

func (d *Driver) Probe(ctx context.Context, exchangeToken string) (connector.ProbeResult, error) {
	if exchangeToken != "" {
		if err := d.client.Do(ctx, http.MethodPut, "/api/exchange/session", &sdkhttp.RequestOptions{
			Data: map[string]string{"token": exchangeToken},
		}, nil); err != nil {
			return connector.ProbeResult{}, fmt.Errorf("push exchange token: %w", err)
		}
	}
	var p profile
	if err := d.client.Do(ctx, http.MethodGet, "/api/profile", nil, &p); err != nil {
		return connector.ProbeResult{}, fmt.Errorf("profile: %w", err)
	}
	return connector.ProbeResult{Online: p.Status == "active", Balance: p.Balance}, nil
}

type event struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	SaleID  string `json:"sale_id"`
	OfferID string `json:"offer_id"`
	Buyer   struct {
		TradeLink string `json:"trade_link"`
	} `json:"buyer"`
	Assets []struct {
		CollectionID string `json:"collection_id"`
		SubID        string `json:"sub_id"`
		AssetID      string `json:"asset_id"`
		Name         string `json:"name"`
	} `json:"assets"`
}

type eventsResponse struct {
	Events []event `json:"events"`
	Cursor int64   `json:"cursor"`
}

// Cursor 最近一次确认的事件游标
func (d *Driver) Cursor() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

// Poll 拉取游标之后的事件；成功后推进游标
func (d *Driver) Poll(ctx context.Context) (connector.Feed, error) {
	var resp eventsResponse
	if err := d.client.Do(ctx, http.MethodGet, "/api/events", &sdkhttp.RequestOptions{
		Params: map[string]any{"since": d.Cursor()},
	}, &resp); err != nil {
		return connector.Feed{}, err
	}

	var feed connector.Feed
	next := d.Cursor()
	for _, ev := range resp.Events {
		if ev.ID > next {
			next = ev.ID
		}
		switch ev.Type {
		case "sale.awaiting_offer":
			sale := domain.Sale{
				Marketplace:   domain.MarketplaceD,
				SaleID:        ev.SaleID,
				RecipientLink: ev.Buyer.TradeLink,
			}
			for _, a := range ev.Assets {
				sale.RequestedItems = append(sale.RequestedItems, domain.RequestedItem{
					CollectionID: a.CollectionID, SubID: a.SubID, AssetID: a.AssetID, Name: a.Name,
				})
			}
			feed.Sales = append(feed.Sales, sale)
		case "sale.revoked":
			if ev.OfferID != "" {
				feed.Cancels = append(feed.Cancels, ev.OfferID)
			}
		case "withdraw.ready":
			if ev.OfferID != "" {
				feed.Accepts = append(feed.Accepts, ev.OfferID)
			}
		}
	}
	if resp.Cursor > next {
		next = resp.Cursor
	}
	d.mu.Lock()
	d.cursor = next
	d.mu.Unlock()
	return feed, nil
}

func (d *Driver) Report(ctx context.Context, saleID, offerID string) error {
	return d.client.Do(ctx, http.MethodPost, "/api/sales/"+saleID+"/offer", &sdkhttp.RequestOptions{
		Data: map[string]string{"offer_id": offerID},
	}, nil)
}
