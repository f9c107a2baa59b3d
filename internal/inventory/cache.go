package inventory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/betbot/tradelink/internal/common"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/metrics"
	"github.com/betbot/tradelink/internal/ports"
	"github.com/betbot/tradelink/pkg/syncgroup"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var cacheLog = logrus.WithField("component", "inventory")

// DefaultCoalesceWindow 默认合并窗口
const DefaultCoalesceWindow = 5 * time.Second

// Fetcher 远端库存读取（exchange.Session 实现）
type Fetcher interface {
	FetchInventory(ctx context.Context, key domain.InventoryKey) ([]domain.InventoryItem, error)
}

// Cache 单账号库存缓存
//
// 每个 (collection-id, sub-id) 同时最多一个远端请求（singleflight，在途请求的调用方共享结果）；
// 最近一次成功拉取在窗口内时直接返回持久化快照。
type Cache struct {
	account string
	fetcher Fetcher
	store   ports.InventoryStore

	group singleflight.Group
	fresh *common.KeyedDebouncer[domain.InventoryKey]
	now   func() time.Time

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loops      *syncgroup.SyncGroup
}

// NewCache 创建缓存；window <= 0 表示不做时间窗口合并（仍合并在途请求）
func NewCache(account string, fetcher Fetcher, store ports.InventoryStore, window time.Duration) *Cache {
	return &Cache{
		account: account,
		fetcher: fetcher,
		store:   store,
		fresh:   common.NewKeyedDebouncer[domain.InventoryKey](window),
		now:     time.Now,
		loops:   syncgroup.NewSyncGroup(),
	}
}

// GetItems 返回 key 下的物品
//
// 窗口内返回快照；否则拉取远端（加入在途请求）。远端失败时回落到快照，快照为空才返回错误。
func (c *Cache) GetItems(ctx context.Context, collectionID, subID string) ([]domain.InventoryItem, error) {
	key := domain.InventoryKey{CollectionID: collectionID, SubID: subID}
	if !c.fresh.Ready(key, c.now()) {
		items, err := c.store.ListItems(ctx, c.account, key)
		if err == nil {
			metrics.InventoryCoalesced.Add(1)
			return items, nil
		}
		cacheLog.Warnf("⚠️ 读取库存快照失败 account=%s key=%s: %v", c.account, key, err)
	}
	return c.fetch(ctx, key, false)
}

// Refresh 强制拉取远端（忽略窗口，失败不回落）
func (c *Cache) Refresh(ctx context.Context, collectionID, subID string) ([]domain.InventoryItem, error) {
	return c.fetch(ctx, domain.InventoryKey{CollectionID: collectionID, SubID: subID}, true)
}

// ContainsAsset 以远端为准检查资产是否仍在库存中（忽略窗口）
func (c *Cache) ContainsAsset(ctx context.Context, collectionID, subID, assetID string) (bool, error) {
	items, err := c.Refresh(ctx, collectionID, subID)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if it.AssetID == assetID {
			return true, nil
		}
	}
	return false, nil
}

func (c *Cache) fetch(ctx context.Context, key domain.InventoryKey, strict bool) ([]domain.InventoryItem, error) {
	// 共享的请求不随某个调用方取消
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.fetchRemote(shared, key)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Shared {
		metrics.InventoryCoalesced.Add(1)
	}
	if res.Err == nil {
		items, _ := res.Val.([]domain.InventoryItem)
		// 合并的调用方各拿一份
		return cloneItems(items), nil
	}
	if strict {
		return nil, res.Err
	}

	snapshot, serr := c.store.ListItems(ctx, c.account, key)
	if serr == nil && len(snapshot) > 0 {
		metrics.InventoryFallbacks.Add(1)
		cacheLog.Warnf("⚠️ 远端库存失败，返回快照 account=%s key=%s items=%d: %v", c.account, key, len(snapshot), res.Err)
		return snapshot, nil
	}
	return nil, res.Err
}

func (c *Cache) fetchRemote(ctx context.Context, key domain.InventoryKey) ([]domain.InventoryItem, error) {
	metrics.InventoryFetches.Add(1)
	items, err := c.fetcher.FetchInventory(ctx, key)
	if err != nil {
		return nil, err
	}
	now := c.now()
	for i := range items {
		items[i].CollectionID = key.CollectionID
		items[i].SubID = key.SubID
		if items[i].RefreshedAt.IsZero() {
			items[i].RefreshedAt = now
		}
	}
	if err := c.store.ReplaceItems(ctx, c.account, key, items); err != nil {
		// 快照写入失败不影响本次结果
		cacheLog.Errorf("❌ 写入库存快照失败 account=%s key=%s: %v", c.account, key, err)
	}
	c.fresh.Mark(key, now)
	cacheLog.Debugf("📦 库存已刷新 account=%s key=%s items=%d", c.account, key, len(items))
	return items, nil
}

// StartAutoRefresh 按固定节奏刷新指定 key；重复调用会替换之前的循环
func (c *Cache) StartAutoRefresh(ctx context.Context, interval time.Duration, keys ...domain.InventoryKey) {
	if interval <= 0 || len(keys) == 0 {
		return
	}
	c.StopAutoRefresh()

	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	loopCtx, cancel := context.WithCancel(ctx)
	c.loopCancel = cancel
	c.loops.Go(func() {
		common.RunTicker(loopCtx, interval, false, nil, func(ctx context.Context) {
			for _, k := range keys {
				if _, err := c.Refresh(ctx, k.CollectionID, k.SubID); err != nil && ctx.Err() == nil {
					cacheLog.Warnf("⚠️ 自动刷新库存失败 account=%s key=%s: %v", c.account, k, err)
				}
			}
		})
	})
}

// StopAutoRefresh 停止自动刷新
func (c *Cache) StopAutoRefresh() {
	c.loopMu.Lock()
	cancel := c.loopCancel
	c.loopCancel = nil
	c.loopMu.Unlock()
	if cancel != nil {
		cancel()
		c.loops.Wait()
	}
}

// Purge 删除账号的全部快照（登出）
func (c *Cache) Purge(ctx context.Context) error {
	c.StopAutoRefresh()
	c.fresh.ResetAll()
	return c.store.PurgeAccount(ctx, c.account)
}

func cloneItems(items []domain.InventoryItem) []domain.InventoryItem {
	if items == nil {
		return nil
	}
	out := make([]domain.InventoryItem, len(items))
	for i, it := range items {
		if it.Raw != nil {
			it.Raw = append(json.RawMessage(nil), it.Raw...)
		}
		out[i] = it
	}
	return out
}
