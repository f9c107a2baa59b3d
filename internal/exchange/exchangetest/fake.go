// Package exchangetest 提供内存版的交易平台，供其他包的测试使用
package exchangetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/exchange"
)

var _ exchange.Platform = (*FakePlatform)(nil)

// FakePlatform 内存平台；所有方法并发安全
type FakePlatform struct {
	mu sync.Mutex

	LoginErr     error
	NextRefresh  string // 非空时 Login 返回此 refresh token（模拟轮换）
	Identity     string
	inventory    map[domain.InventoryKey][]domain.InventoryItem
	inventoryErr error
	offers       map[string]*domain.TradeOffer
	nextOfferID  int

	SendErr           error
	CancelErrs        []error // 依次返回，耗尽后成功
	AcceptErr         error
	NeedsConfirmation bool

	// FetchGate 非 nil 时 FetchInventory 阻塞直到可读（测试合并）
	FetchGate chan struct{}

	FetchCalls  atomic.Int64
	SendCalls   atomic.Int64
	CancelCalls atomic.Int64
	AcceptCalls atomic.Int64
	LoginCalls  atomic.Int64

	Sent []domain.OfferRequest
}

// NewFakePlatform 创建空平台
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		Identity:  "76561190000000001",
		inventory: make(map[domain.InventoryKey][]domain.InventoryItem),
		offers:    make(map[string]*domain.TradeOffer),
	}
}

// SetInventory 设置 key 下的库存（按 asset id 生成物品）
func (f *FakePlatform) SetInventory(key domain.InventoryKey, assetIDs ...string) {
	items := make([]domain.InventoryItem, 0, len(assetIDs))
	for i, id := range assetIDs {
		items = append(items, domain.InventoryItem{
			CollectionID: key.CollectionID, SubID: key.SubID, AssetID: id,
			ClassID: "class-" + id, Name: "item " + id, Tradable: true, Position: i,
		})
	}
	f.mu.Lock()
	f.inventory[key] = items
	f.mu.Unlock()
}

// SetInventoryErr 设置库存读取错误（nil 清除）
func (f *FakePlatform) SetInventoryErr(err error) {
	f.mu.Lock()
	f.inventoryErr = err
	f.mu.Unlock()
}

// PutOffer 放入一个已有报价
func (f *FakePlatform) PutOffer(o domain.TradeOffer) {
	f.mu.Lock()
	cp := o
	f.offers[o.ID] = &cp
	f.mu.Unlock()
}

// Offer 读取报价快照
func (f *FakePlatform) Offer(id string) (domain.TradeOffer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return domain.TradeOffer{}, false
	}
	return *o, true
}

// SentRequests 已发送的报价请求
func (f *FakePlatform) SentRequests() []domain.OfferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OfferRequest(nil), f.Sent...)
}

func (f *FakePlatform) Login(_ context.Context, creds exchange.Credentials) (exchange.LoginResult, error) {
	f.LoginCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LoginErr != nil {
		return exchange.LoginResult{}, f.LoginErr
	}
	rt := creds.RefreshToken
	if f.NextRefresh != "" {
		rt = f.NextRefresh
	}
	return exchange.LoginResult{
		Identity:     f.Identity,
		AccessToken:  fmt.Sprintf("access-%d", f.LoginCalls.Load()),
		RefreshToken: rt,
	}, nil
}

func (f *FakePlatform) FetchInventory(ctx context.Context, _ string, key domain.InventoryKey) ([]domain.InventoryItem, error) {
	f.FetchCalls.Add(1)
	if gate := f.FetchGate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inventoryErr != nil {
		return nil, f.inventoryErr
	}
	return append([]domain.InventoryItem(nil), f.inventory[key]...), nil
}

func (f *FakePlatform) SendOffer(_ context.Context, req domain.OfferRequest) (domain.OfferResult, error) {
	f.SendCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return domain.OfferResult{}, f.SendErr
	}
	f.nextOfferID++
	id := fmt.Sprintf("offer-%d", f.nextOfferID)
	state := domain.OfferStateActive
	if f.NeedsConfirmation {
		state = domain.OfferStateNeedsConfirmation
	}
	f.offers[id] = &domain.TradeOffer{
		ID: id, Partner: req.RecipientLink, Message: req.Message, State: state,
		IsOurOffer: true, ItemsToGive: append([]domain.Asset(nil), req.Items...),
	}
	f.Sent = append(f.Sent, req)
	return domain.OfferResult{OfferID: id, NeedsConfirmation: f.NeedsConfirmation}, nil
}

func (f *FakePlatform) GetOffer(_ context.Context, offerID string) (*domain.TradeOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[offerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOfferNotFound, offerID)
	}
	cp := *o
	return &cp, nil
}

func (f *FakePlatform) CancelOffer(_ context.Context, offerID string) error {
	f.CancelCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.CancelErrs) > 0 {
		err := f.CancelErrs[0]
		f.CancelErrs = f.CancelErrs[1:]
		if err != nil {
			return err
		}
	}
	o, ok := f.offers[offerID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOfferNotFound, offerID)
	}
	o.State = domain.OfferStateCanceled
	return nil
}

func (f *FakePlatform) AcceptOffer(_ context.Context, offerID string) error {
	f.AcceptCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AcceptErr != nil {
		return f.AcceptErr
	}
	o, ok := f.offers[offerID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOfferNotFound, offerID)
	}
	o.State = domain.OfferStateAccepted
	return nil
}

func (f *FakePlatform) ListOffers(_ context.Context, activeOnly bool) ([]domain.TradeOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TradeOffer, 0, len(f.offers))
	for _, o := range f.offers {
		if activeOnly && o.State.IsTerminal() {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}
