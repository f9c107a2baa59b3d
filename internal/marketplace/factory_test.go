package marketplace

import (
	"testing"

	"github.com/betbot/tradelink/internal/connector"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/pkg/config"
	"github.com/betbot/tradelink/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	mb := cfg.Marketplaces["marketb"]
	mb.BaseURL = "http://b.example"
	cfg.Marketplaces["marketb"] = mb
	return cfg
}

func TestFactory_Errors(t *testing.T) {
	f := NewFactory(testConfig(), nil)

	_, err := f.NewDriver(domain.Marketplace("nope"), "k", "")
	assert.ErrorIs(t, err, domain.ErrUnknownMarketplace)

	_, err = f.NewDriver(domain.MarketplaceB, "", "")
	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)

	_, err = f.NewDriver(domain.MarketplaceA, "k", "")
	assert.Error(t, err, "marketa has no base_url in the default config")
}

func TestFactory_BuildsPollConnector(t *testing.T) {
	limits := ratelimit.NewRateLimitManager()
	f := NewFactory(testConfig(), limits)

	d, err := f.NewDriver(domain.MarketplaceB, "k", "")
	require.NoError(t, err)
	_, isPoll := d.(connector.PollDriver)
	assert.True(t, isPoll)
	assert.Equal(t, domain.MarketplaceB, d.Marketplace())

	c, err := f.NewConnector(domain.MarketplaceB, "k", "")
	require.NoError(t, err)
	assert.Equal(t, connector.StateIdle, c.State())

	l1 := limits.GetLimiter(limiterEndpoint(domain.MarketplaceB))
	_, err = f.NewDriver(domain.MarketplaceB, "k2", "")
	require.NoError(t, err)
	assert.Same(t, l1, limits.GetLimiter(limiterEndpoint(domain.MarketplaceB)))
}
