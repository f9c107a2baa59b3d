package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/ports"
	"github.com/betbot/tradelink/pkg/secretstore"
)

const accountKeyPrefix = "account:"

var _ ports.AccountStore = (*AccountStore)(nil)

// AccountStore 账号聚合存储（badger 加密 KV，一个 key 一个完整聚合）
//
// 整体读写保证了一个平台设置的更新不会丢失另一个平台的设置（除布尔标志 last-write-wins 外）。
type AccountStore struct {
	mu    sync.Mutex
	store *secretstore.Store
}

func NewAccountStore(store *secretstore.Store) *AccountStore {
	return &AccountStore{store: store}
}

func accountKey(username string) string {
	return accountKeyPrefix + strings.ToLower(strings.TrimSpace(username))
}

// FindByUsername 加载完整聚合；缺失的子记录按默认值补齐
func (s *AccountStore) FindByUsername(_ context.Context, username string) (*domain.Account, error) {
	if strings.TrimSpace(username) == "" {
		return nil, domain.ErrAccountNotFound
	}
	var a domain.Account
	found, err := s.store.GetJSON(accountKey(username), &a)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, username)
	}
	a.EnsureDefaults()
	return &a, nil
}

// Save 写入完整聚合
func (s *AccountStore) Save(_ context.Context, account *domain.Account) error {
	if account == nil || strings.TrimSpace(account.Username) == "" {
		return fmt.Errorf("save account: username is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := account.Clone()
	snap.EnsureDefaults()
	snap.UpdatedAt = time.Now()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = snap.UpdatedAt
	}
	return s.store.SetJSON(accountKey(snap.Username), snap)
}

// Remove 删除账号（聚合内的平台设置与用户设置一并删除）
func (s *AccountStore) Remove(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(accountKey(username))
}

// List 列出全部账号
func (s *AccountStore) List(ctx context.Context) ([]*domain.Account, error) {
	keys, err := s.store.Keys(accountKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Account, 0, len(keys))
	for _, k := range keys {
		a, err := s.FindByUsername(ctx, strings.TrimPrefix(k, accountKeyPrefix))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
