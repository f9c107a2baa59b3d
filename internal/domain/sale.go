package domain

import "fmt"

// RequestedItem 销售中请求交付的物品
// AssetID 优先；平台只给 class/instance 时按此回退匹配
type RequestedItem struct {
	CollectionID string `json:"collection_id"`
	SubID        string `json:"sub_id"`
	AssetID      string `json:"asset_id,omitempty"`
	ClassID      string `json:"class_id,omitempty"`
	InstanceID   string `json:"instance_id,omitempty"`
	Name         string `json:"name,omitempty"`
}

// Key 库存分组键
func (r RequestedItem) Key() InventoryKey {
	return InventoryKey{CollectionID: r.CollectionID, SubID: r.SubID}
}

func (r RequestedItem) String() string {
	if r.AssetID != "" {
		return fmt.Sprintf("%s/%s/%s", r.CollectionID, r.SubID, r.AssetID)
	}
	return fmt.Sprintf("%s/%s/%s_%s", r.CollectionID, r.SubID, r.ClassID, r.InstanceID)
}

// Sale 平台销售信号（需要发出交易报价）
type Sale struct {
	Marketplace    Marketplace     `json:"marketplace"`
	SaleID         string          `json:"sale_id"`
	RecipientLink  string          `json:"recipient_link"`
	RequestedItems []RequestedItem `json:"requested_items"`
	Message        string          `json:"message,omitempty"`
}

// Key 去重键
func (s Sale) Key() string {
	return string(s.Marketplace) + ":" + s.SaleID
}
