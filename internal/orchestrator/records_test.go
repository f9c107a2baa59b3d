package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOfferRecords_BoundedAndReloaded(t *testing.T) {
	svc := persistence.NewJSONFileService(t.TempDir())
	r, err := OpenOfferRecords(svc, "alice", 3)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, r.Put(domain.OfferRecord{
			OfferID: fmt.Sprintf("o%d", i), Marketplace: domain.MarketplaceB,
			SaleID: fmt.Sprintf("s%d", i), CreatedAt: time.Now(),
		}))
	}
	assert.Equal(t, 3, r.Len())
	assert.False(t, r.HasSale(domain.MarketplaceB, "s2"))
	assert.True(t, r.HasSale(domain.MarketplaceB, "s5"))
	assert.False(t, r.HasSale(domain.MarketplaceA, "s5"))

	reopened, err := OpenOfferRecords(svc, "alice", 3)
	require.NoError(t, err)
	rec, ok := reopened.Get("o4")
	require.True(t, ok)
	assert.Equal(t, "s4", rec.SaleID)

	require.NoError(t, reopened.Purge())
	again, err := OpenOfferRecords(svc, "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Len())
}
