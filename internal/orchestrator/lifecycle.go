package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/events"
	"github.com/betbot/tradelink/internal/metrics"
)

// CancelTradeOffer 撤销报价
//
// 报价不存在或已不可撤销时直接返回；其他失败等待 attempt 分钟后重试（retry=false 时不重试）。
// 不返回错误。
func (o *Orchestrator) CancelTradeOffer(ctx context.Context, offerID string, retry bool) {
	defer func() {
		if r := recover(); r != nil {
			orchLog.Errorf("❌ CancelTradeOffer panic offer=%s: %v", offerID, r)
		}
	}()

	for attempt := 1; ctx.Err() == nil; attempt++ {
		err := o.cancelOnce(ctx, offerID)
		if err == nil {
			return
		}
		if !retry {
			orchLog.Warnf("⚠️ 撤销报价 %s 失败（不重试）: %v", offerID, err)
			return
		}
		wait := time.Duration(attempt) * time.Minute
		orchLog.Warnf("⚠️ 撤销报价 %s 失败（第 %d 次），%v 后重试: %v", offerID, attempt, wait, err)
		if !o.sleep(ctx, wait) {
			return
		}
	}
}

// cancelOnce 返回 nil 表示已结束（撤销成功、不存在或不可撤销）
func (o *Orchestrator) cancelOnce(ctx context.Context, offerID string) error {
	offer, err := o.session.GetOffer(ctx, offerID)
	if errors.Is(err, domain.ErrOfferNotFound) {
		orchLog.Infof("ℹ️ 报价 %s 不存在，无需撤销", offerID)
		return nil
	}
	if err != nil {
		return err
	}
	if !offer.State.Cancellable() {
		orchLog.Infof("ℹ️ 报价 %s 状态为 %s，无需撤销", offerID, offer.State)
		return nil
	}

	err = o.session.CancelOffer(ctx, offerID)
	if errors.Is(err, domain.ErrOfferNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	metrics.OffersCanceled.Add(1)
	orchLog.Infof("🗑️ 报价 %s 已撤销", offerID)
	o.events.Emit(events.OfferCanceledEvent{Meta: events.NewMeta(o.account), OfferID: offerID})
	return nil
}

// AcceptTradeOffer 接受报价（提现/礼物）：只尝试一次，确认要送出的物品仍在库存中。
// 不返回错误。
func (o *Orchestrator) AcceptTradeOffer(ctx context.Context, offerID string) {
	defer func() {
		if r := recover(); r != nil {
			orchLog.Errorf("❌ AcceptTradeOffer panic offer=%s: %v", offerID, r)
		}
	}()

	offer, err := o.session.GetOffer(ctx, offerID)
	if err != nil {
		orchLog.Warnf("⚠️ 读取报价 %s 失败: %v", offerID, err)
		return
	}
	if !offer.State.Acceptable() {
		orchLog.Infof("ℹ️ 报价 %s 状态为 %s，无法接受", offerID, offer.State)
		return
	}
	for _, a := range offer.ItemsToGive {
		held, err := o.inventory.ContainsAsset(ctx, a.CollectionID, a.SubID, a.AssetID)
		if err != nil {
			orchLog.Warnf("⚠️ 校验报价 %s 物品 %s 失败: %v", offerID, a.AssetID, err)
			return
		}
		if !held {
			orchLog.Warnf("⚠️ 报价 %s 要送出的物品 %s 已不在库存中，不接受", offerID, a.AssetID)
			return
		}
	}

	if err := o.session.AcceptOffer(ctx, offerID); err != nil {
		orchLog.Warnf("⚠️ 接受报价 %s 失败: %v", offerID, err)
		return
	}
	metrics.OffersAccepted.Add(1)
	o.appendPending(offerID)
	gift := offer.IsGift()
	if gift {
		o.notify("已接受礼物报价", "报价 "+offerID+" 已接受")
	} else {
		o.notify("已接受报价", "报价 "+offerID+" 已接受")
	}
	orchLog.Infof("🤝 报价 %s 已接受 (gift=%v)", offerID, gift)
	o.events.Emit(events.OfferAcceptedEvent{Meta: events.NewMeta(o.account), OfferID: offerID, Gift: gift})
}
