package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/ports"
)

var _ ports.InventoryStore = (*InventoryRepo)(nil)

// InventoryRepo 库存快照（sqlite）
type InventoryRepo struct {
	db *sql.DB
}

func NewInventoryRepo(db *sql.DB) *InventoryRepo {
	return &InventoryRepo{db: db}
}

// ReplaceItems 同一事务内 upsert 全部行并删除本次结果中缺失的 asset
func (r *InventoryRepo) ReplaceItems(ctx context.Context, account string, key domain.InventoryKey, items []domain.InventoryItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// 先删缺失行：把本次结果写入临时集合再做差
	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS inv_keep (asset_id TEXT PRIMARY KEY)`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM inv_keep`); err != nil {
		return err
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO inv_keep (asset_id) VALUES (?)`, it.AssetID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM inventory_items
WHERE account=? AND collection_id=? AND sub_id=?
  AND asset_id NOT IN (SELECT asset_id FROM inv_keep)
`, account, key.CollectionID, key.SubID); err != nil {
		return fmt.Errorf("evict absent items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO inventory_items (account,collection_id,sub_id,asset_id,class_id,instance_id,name,tradable,raw,position,refreshed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(account,collection_id,sub_id,asset_id) DO UPDATE SET
  class_id=excluded.class_id,
  instance_id=excluded.instance_id,
  name=excluded.name,
  tradable=excluded.tradable,
  raw=excluded.raw,
  position=excluded.position,
  refreshed_at=excluded.refreshed_at
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		refreshed := it.RefreshedAt
		if refreshed.IsZero() {
			refreshed = time.Now()
		}
		var raw any
		if len(it.Raw) > 0 {
			raw = string(it.Raw)
		}
		if _, err := stmt.ExecContext(ctx,
			account, key.CollectionID, key.SubID, it.AssetID, it.ClassID, it.InstanceID, it.Name,
			boolToInt(it.Tradable), raw, it.Position, refreshed.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("upsert item %s: %w", it.AssetID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM inv_keep`); err != nil {
		return err
	}
	return tx.Commit()
}

// ListItems 按 position 返回 key 下的全部行
func (r *InventoryRepo) ListItems(ctx context.Context, account string, key domain.InventoryKey) ([]domain.InventoryItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT asset_id,class_id,instance_id,name,tradable,raw,position,refreshed_at
FROM inventory_items WHERE account=? AND collection_id=? AND sub_id=?
ORDER BY position ASC, asset_id ASC
`, account, key.CollectionID, key.SubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InventoryItem
	for rows.Next() {
		it := domain.InventoryItem{CollectionID: key.CollectionID, SubID: key.SubID}
		var tradable int
		var raw sql.NullString
		var refreshed string
		if err := rows.Scan(&it.AssetID, &it.ClassID, &it.InstanceID, &it.Name, &tradable, &raw, &it.Position, &refreshed); err != nil {
			return nil, err
		}
		it.Tradable = tradable != 0
		if raw.Valid && raw.String != "" {
			it.Raw = []byte(raw.String)
		}
		it.RefreshedAt, _ = time.Parse(time.RFC3339Nano, refreshed)
		out = append(out, it)
	}
	return out, rows.Err()
}

// PurgeAccount 删除账号的全部快照（登出级联）
func (r *InventoryRepo) PurgeAccount(ctx context.Context, account string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE account=?`, account)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
