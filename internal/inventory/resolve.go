package inventory

import (
	"context"
	"fmt"

	"github.com/betbot/tradelink/internal/domain"
)

// Resolution 请求物品与持有资产的匹配结果
type Resolution struct {
	Items   []domain.InventoryItem // 与请求顺序一致
	Missing []domain.RequestedItem
}

// Complete 是否全部匹配
func (r Resolution) Complete() bool {
	return len(r.Missing) == 0
}

// Assets 转为报价物品
func (r Resolution) Assets() []domain.Asset {
	out := make([]domain.Asset, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, it.Asset())
	}
	return out
}

// Resolve 按 (collection-id, sub-id) 分组读取库存，把请求物品匹配到可交易的持有资产
// 同一资产不会被分配给两个请求
func (c *Cache) Resolve(ctx context.Context, requested []domain.RequestedItem) (Resolution, error) {
	var res Resolution
	if len(requested) == 0 {
		return res, fmt.Errorf("no requested items")
	}

	byKey := make(map[domain.InventoryKey][]domain.InventoryItem)
	for _, r := range requested {
		k := r.Key()
		if _, ok := byKey[k]; ok {
			continue
		}
		items, err := c.GetItems(ctx, k.CollectionID, k.SubID)
		if err != nil {
			return res, fmt.Errorf("load inventory %s: %w", k, err)
		}
		byKey[k] = items
	}

	used := make(map[string]struct{}, len(requested))
	for _, r := range requested {
		var found *domain.InventoryItem
		for i := range byKey[r.Key()] {
			it := &byKey[r.Key()][i]
			if !it.Tradable {
				continue
			}
			if _, taken := used[it.AssetID]; taken {
				continue
			}
			if it.Matches(r) {
				found = it
				break
			}
		}
		if found == nil {
			res.Missing = append(res.Missing, r)
			continue
		}
		used[found.AssetID] = struct{}{}
		res.Items = append(res.Items, *found)
	}
	return res, nil
}
