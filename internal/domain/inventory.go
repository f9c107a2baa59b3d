package domain

import (
	"encoding/json"
	"time"
)

// InventoryKey 库存分组键（collection-id, sub-id）
type InventoryKey struct {
	CollectionID string
	SubID        string
}

func (k InventoryKey) String() string {
	return k.CollectionID + "/" + k.SubID
}

// InventoryItem 交易所库存中一件物品的快照
type InventoryItem struct {
	CollectionID string          `json:"collection_id"`
	SubID        string          `json:"sub_id"`
	AssetID      string          `json:"asset_id"`
	ClassID      string          `json:"class_id,omitempty"`
	InstanceID   string          `json:"instance_id,omitempty"`
	Name         string          `json:"name"`
	Tradable     bool            `json:"tradable"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	Position     int             `json:"position"`
	RefreshedAt  time.Time       `json:"refreshed_at"`
}

// Key 分组键
func (i InventoryItem) Key() InventoryKey {
	return InventoryKey{CollectionID: i.CollectionID, SubID: i.SubID}
}

// Asset 转换为报价物品
func (i InventoryItem) Asset() Asset {
	return Asset{CollectionID: i.CollectionID, SubID: i.SubID, AssetID: i.AssetID, Amount: 1}
}

// Matches 是否满足请求
func (i InventoryItem) Matches(r RequestedItem) bool {
	if i.CollectionID != r.CollectionID || i.SubID != r.SubID {
		return false
	}
	if r.AssetID != "" {
		return i.AssetID == r.AssetID
	}
	if r.ClassID == "" {
		return false
	}
	return i.ClassID == r.ClassID && (r.InstanceID == "" || i.InstanceID == r.InstanceID)
}
