package storage

import (
	"context"
	"testing"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/pkg/secretstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccountStore(t *testing.T) *AccountStore {
	t.Helper()
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })
	return NewAccountStore(ss)
}

func TestAccountStore_RoundTripFullAggregate(t *testing.T) {
	ctx := context.Background()
	s := newTestAccountStore(t)

	a := domain.NewAccount("Alice")
	a.RefreshToken = "rt-1"
	a.Settings(domain.MarketplaceB).APIKey = "key-b"
	a.Settings(domain.MarketplaceB).Running = true
	a.Settings(domain.MarketplaceB).AddProcessedSale("s1", 10)
	a.User.GiftAutoAccept = true
	require.NoError(t, s.Save(ctx, a))

	got, err := s.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", got.RefreshToken)
	assert.Equal(t, "key-b", got.Settings(domain.MarketplaceB).APIKey)
	assert.True(t, got.Settings(domain.MarketplaceB).Running)
	assert.Equal(t, []string{"s1"}, got.Settings(domain.MarketplaceB).ProcessedSales)
	assert.True(t, got.User.GiftAutoAccept)
	// 缺失的平台设置以默认值构造
	for _, m := range domain.AllMarketplaces() {
		assert.NotNil(t, got.Marketplaces[m])
	}
}

func TestAccountStore_RemoveAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestAccountStore(t)

	require.NoError(t, s.Save(ctx, domain.NewAccount("alice")))
	require.NoError(t, s.Save(ctx, domain.NewAccount("bob")))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.Remove(ctx, "alice"))
	_, err = s.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].Username)
}
