package ports

import (
	"context"

	"github.com/betbot/tradelink/internal/domain"
)

// AccountStore 账号聚合持久化
//
// FindByUsername 总是返回完整聚合（缺失的平台设置以默认值补齐）；
// 账号不存在时返回 domain.ErrAccountNotFound。
type AccountStore interface {
	FindByUsername(ctx context.Context, username string) (*domain.Account, error)
	Save(ctx context.Context, account *domain.Account) error
	Remove(ctx context.Context, username string) error
	List(ctx context.Context) ([]*domain.Account, error)
}

// InventoryStore 库存快照持久化（按账号隔离）
type InventoryStore interface {
	// ReplaceItems 以最新结果替换 key 下的全部行（upsert + 删除缺失）
	ReplaceItems(ctx context.Context, account string, key domain.InventoryKey, items []domain.InventoryItem) error
	ListItems(ctx context.Context, account string, key domain.InventoryKey) ([]domain.InventoryItem, error)
	PurgeAccount(ctx context.Context, account string) error
}

// OfferRecordStore 报价记录（offerID → 销售）
type OfferRecordStore interface {
	Put(rec domain.OfferRecord) error
	Get(offerID string) (domain.OfferRecord, bool)
	HasSale(m domain.Marketplace, saleID string) bool
	Purge() error
}
