// Package orchestrator 交易报价编排：销售 → 库存匹配 → 创建报价 → 回报平台，以及撤销/接受
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/tradelink/internal/common"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/events"
	"github.com/betbot/tradelink/internal/execution"
	"github.com/betbot/tradelink/internal/inventory"
	"github.com/betbot/tradelink/internal/metrics"
	"github.com/betbot/tradelink/internal/ports"
	"github.com/betbot/tradelink/internal/risk"
	"github.com/betbot/tradelink/internal/stream"
	"github.com/sirupsen/logrus"
)

var orchLog = logrus.WithField("component", "orchestrator")

// Outcome 一笔销售的处理结果
type Outcome int

const (
	OutcomeCreated    Outcome = iota
	OutcomeDuplicate          // 处理中或已处理
	OutcomeUnresolved         // 物品不在库存中
	OutcomeConflict           // 物品已在其他活跃报价中
	OutcomeHalted             // 报价创建已暂停
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeConflict:
		return "conflict"
	case OutcomeHalted:
		return "halted"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Session 交易所操作（exchange.Session 实现）
type Session interface {
	CreateOffer(ctx context.Context, req domain.OfferRequest) (domain.OfferResult, error)
	GetOffer(ctx context.Context, offerID string) (*domain.TradeOffer, error)
	CancelOffer(ctx context.Context, offerID string) error
	AcceptOffer(ctx context.Context, offerID string) error
	ActiveOffers(ctx context.Context) ([]domain.TradeOffer, error)
}

// Inventory 库存（inventory.Cache 实现）
type Inventory interface {
	Resolve(ctx context.Context, requested []domain.RequestedItem) (inventory.Resolution, error)
	ContainsAsset(ctx context.Context, collectionID, subID, assetID string) (bool, error)
}

// Ledger 账号聚合里的去重列表与用户设置（coordinator 实现，写入即持久化）
type Ledger interface {
	HasProcessedSale(m domain.Marketplace, saleID string) bool
	RecordProcessedSale(ctx context.Context, m domain.Marketplace, saleID string) error
	PendingTradesPath() string
}

// Reporter 平台回报钩子（connector.Connector 实现）
type Reporter interface {
	Report(ctx context.Context, saleID, offerID string) error
}

// Deps 依赖
type Deps struct {
	Account   string
	Session   Session
	Inventory Inventory
	Ledger    Ledger
	Records   ports.OfferRecordStore
	Notifier  ports.Notifier
	Appender  ports.NumberAppender
	Breaker   *risk.CircuitBreaker
}

// Orchestrator 单账号的报价编排器（所有平台共用一个实例）
type Orchestrator struct {
	account   string
	session   Session
	inventory Inventory
	ledger    Ledger
	records   ports.OfferRecordStore
	notifier  ports.Notifier
	appender  ports.NumberAppender
	breaker   *risk.CircuitBreaker
	inflight  *execution.InFlightDeduper
	events    *stream.HandlerList[events.Event]

	mu        sync.RWMutex
	reporters map[domain.Marketplace]Reporter

	// sleep 撤销重试的等待（测试替换）
	sleep func(ctx context.Context, d time.Duration) bool
}

// New 创建编排器
func New(d Deps) *Orchestrator {
	breaker := d.Breaker
	if breaker == nil {
		breaker = risk.NewCircuitBreaker(risk.CircuitBreakerConfig{})
	}
	return &Orchestrator{
		account:   d.Account,
		session:   d.Session,
		inventory: d.Inventory,
		ledger:    d.Ledger,
		records:   d.Records,
		notifier:  d.Notifier,
		appender:  d.Appender,
		breaker:   breaker,
		inflight:  execution.NewInFlightDeduper(10*time.Minute, 16),
		events:    stream.NewHandlerList[events.Event]("orchestrator.events"),
		reporters: make(map[domain.Marketplace]Reporter),
		sleep:     common.Sleep,
	}
}

// OnEvent 订阅生命周期事件
func (o *Orchestrator) OnEvent(fn func(events.Event)) (remove func()) {
	return o.events.Add(fn)
}

// SetReporter 设置平台回报钩子；nil 移除
func (o *Orchestrator) SetReporter(m domain.Marketplace, r Reporter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r == nil {
		delete(o.reporters, m)
		return
	}
	o.reporters[m] = r
}

func (o *Orchestrator) reporter(m domain.Marketplace) Reporter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.reporters[m]
}

// Breaker 报价创建熔断器
func (o *Orchestrator) Breaker() *risk.CircuitBreaker { return o.breaker }

func (o *Orchestrator) notify(title, body string) {
	if o.notifier != nil {
		o.notifier.Notify(title, body)
	}
}

func (o *Orchestrator) appendPending(offerID string) {
	if o.appender == nil || o.ledger == nil {
		return
	}
	path := o.ledger.PendingTradesPath()
	if path == "" {
		return
	}
	if err := o.appender.AppendNumber(path, offerID); err != nil {
		orchLog.Warnf("⚠️ 写入 pending 文件失败 path=%s offer=%s: %v", path, offerID, err)
	}
}

func (o *Orchestrator) skip(sale domain.Sale, out Outcome, reason string) Outcome {
	metrics.SalesSkipped.Add(1)
	metrics.SkipReasons.Add(out.String(), 1)
	o.events.Emit(events.SaleSkippedEvent{
		Meta:        events.NewMeta(o.account),
		Marketplace: sale.Marketplace,
		SaleID:      sale.SaleID,
		Reason:      reason,
	})
	return out
}

func (o *Orchestrator) fail(sale domain.Sale, stage string, err error) Outcome {
	orchLog.Errorf("❌ [%s] 销售 %s 处理失败（%s）: %v", sale.Marketplace, sale.SaleID, stage, err)
	o.events.Emit(events.ErrorEvent{
		Meta:        events.NewMeta(o.account),
		Marketplace: sale.Marketplace,
		Error:       fmt.Sprintf("sale %s: %s: %v", sale.SaleID, stage, err),
	})
	return o.skip(sale, OutcomeFailed, stage+": "+err.Error())
}

// HandleSale 处理一笔销售信号；不返回错误，所有失败都记录日志
func (o *Orchestrator) HandleSale(ctx context.Context, sale domain.Sale) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			orchLog.Errorf("❌ HandleSale panic sale=%s: %v", sale.Key(), r)
			out = OutcomeFailed
		}
	}()

	release, err := o.inflight.Acquire(sale.Key())
	if err != nil {
		orchLog.Infof("ℹ️ [%s] 销售 %s 正在处理中，忽略", sale.Marketplace, sale.SaleID)
		return o.skip(sale, OutcomeDuplicate, "in flight")
	}
	defer release()

	if o.ledger.HasProcessedSale(sale.Marketplace, sale.SaleID) || o.records.HasSale(sale.Marketplace, sale.SaleID) {
		orchLog.Infof("ℹ️ [%s] 销售 %s 已处理过", sale.Marketplace, sale.SaleID)
		return o.skip(sale, OutcomeDuplicate, "already processed")
	}

	if len(sale.RequestedItems) == 0 {
		orchLog.Infof("ℹ️ [%s] 销售 %s 没有请求物品", sale.Marketplace, sale.SaleID)
		return o.skip(sale, OutcomeUnresolved, "no requested items")
	}
	res, err := o.inventory.Resolve(ctx, sale.RequestedItems)
	if err != nil {
		o.breaker.OnError()
		return o.fail(sale, "resolve inventory", err)
	}
	if !res.Complete() {
		orchLog.Infof("ℹ️ [%s] 销售 %s 有 %d 个物品不在库存中: %v", sale.Marketplace, sale.SaleID, len(res.Missing), res.Missing)
		return o.skip(sale, OutcomeUnresolved, fmt.Sprintf("%d items not held", len(res.Missing)))
	}

	active, err := o.session.ActiveOffers(ctx)
	if err != nil {
		o.breaker.OnError()
		return o.fail(sale, "list active offers", err)
	}
	for i := range active {
		for _, it := range res.Items {
			if active[i].Contains(it.AssetID) {
				orchLog.Infof("ℹ️ [%s] 销售 %s 的物品 %s 已在报价 %s 中", sale.Marketplace, sale.SaleID, it.AssetID, active[i].ID)
				return o.skip(sale, OutcomeConflict, "asset "+it.AssetID+" already in offer "+active[i].ID)
			}
		}
	}

	if err := o.breaker.AllowTrading(); err != nil {
		orchLog.Warnf("⏸️ [%s] 报价创建已暂停，销售 %s 未处理", sale.Marketplace, sale.SaleID)
		return o.skip(sale, OutcomeHalted, err.Error())
	}

	result, err := o.session.CreateOffer(ctx, domain.OfferRequest{
		RecipientLink: sale.RecipientLink,
		Items:         res.Assets(),
		Message:       sale.Message,
	})
	if err != nil {
		o.breaker.OnError()
		metrics.OfferCreateErrors.Add(1)
		return o.fail(sale, "create offer", err)
	}
	o.breaker.OnSuccess()
	o.afterCreate(ctx, sale, result)
	return OutcomeCreated
}

// afterCreate 报价已发出：后续步骤失败只记录，不影响结果
func (o *Orchestrator) afterCreate(ctx context.Context, sale domain.Sale, result domain.OfferResult) {
	rec := domain.OfferRecord{
		OfferID:           result.OfferID,
		Marketplace:       sale.Marketplace,
		SaleID:            sale.SaleID,
		NeedsConfirmation: result.NeedsConfirmation,
		CreatedAt:         time.Now(),
	}
	if err := o.records.Put(rec); err != nil {
		orchLog.Errorf("❌ 保存报价记录失败 offer=%s: %v", result.OfferID, err)
	}
	if err := o.ledger.RecordProcessedSale(ctx, sale.Marketplace, sale.SaleID); err != nil {
		orchLog.Errorf("❌ 保存去重列表失败 sale=%s: %v", sale.Key(), err)
	}

	if r := o.reporter(sale.Marketplace); r != nil {
		if err := r.Report(ctx, sale.SaleID, result.OfferID); err != nil {
			orchLog.Warnf("⚠️ [%s] 回报报价 %s 失败: %v", sale.Marketplace, result.OfferID, err)
			o.events.Emit(events.ErrorEvent{
				Meta:        events.NewMeta(o.account),
				Marketplace: sale.Marketplace,
				Error:       fmt.Sprintf("report offer %s: %v", result.OfferID, err),
			})
		}
	}

	o.appendPending(result.OfferID)
	if result.NeedsConfirmation {
		o.notify("报价待确认", fmt.Sprintf("%s 销售 %s 的报价 %s 需要在移动端确认", sale.Marketplace, sale.SaleID, result.OfferID))
	} else {
		o.notify("报价已发送", fmt.Sprintf("%s 销售 %s 的报价 %s 已发送", sale.Marketplace, sale.SaleID, result.OfferID))
	}

	metrics.OffersCreated.Add(1)
	orchLog.Infof("✅ [%s] 销售 %s → 报价 %s (needsConfirmation=%v)", sale.Marketplace, sale.SaleID, result.OfferID, result.NeedsConfirmation)
	o.events.Emit(events.OfferCreatedEvent{
		Meta:              events.NewMeta(o.account),
		Marketplace:       sale.Marketplace,
		SaleID:            sale.SaleID,
		OfferID:           result.OfferID,
		NeedsConfirmation: result.NeedsConfirmation,
	})
}
