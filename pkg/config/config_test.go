package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_FileOverridesDefaultsAndFillsGaps(t *testing.T) {
	t.Setenv("TRADELINK_EXCHANGE_URL", "")
	p := writeFile(t, "cfg.yaml", `
data_dir: /tmp/tl
exchange:
  base_url: https://exchange.test
  offer_poll_interval: 45s
inventory:
  coalesce_window: 2s
marketplaces:
  marketb:
    base_url: https://b.test
    reconnect_delay: 200ms
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "https://exchange.test", cfg.Exchange.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Exchange.OfferPollInterval)
	assert.Equal(t, 20*time.Minute, cfg.Exchange.SessionRefreshInterval)
	assert.Equal(t, 2*time.Second, cfg.Inventory.CoalesceWindow)
	assert.Equal(t, filepath.Join("/tmp/tl", "inventory.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join("/tmp/tl", "offers"), cfg.OffersDir())

	b, ok := cfg.Marketplace("marketb")
	require.True(t, ok)
	assert.Equal(t, "https://b.test", b.BaseURL)
	assert.Equal(t, 3*time.Minute, b.ProbeInterval)
	assert.Equal(t, 5*time.Second, b.PollInterval)
	assert.Equal(t, time.Second, b.ReconnectDelay)

	_, ok = cfg.Marketplace("marketa")
	assert.True(t, ok)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	t.Setenv("TRADELINK_EXCHANGE_URL", "https://env.test")
	t.Setenv("TRADELINK_MARKETC_URL", "https://c.env")
	t.Setenv("TRADELINK_DEDUP_LIST_LIMIT", "42")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.test", cfg.Exchange.BaseURL)
	assert.Equal(t, 42, cfg.Orchestrator.DedupListLimit)
	c, _ := cfg.Marketplace("marketc")
	assert.Equal(t, "https://c.env", c.BaseURL)
}

func TestLoad_Rejects(t *testing.T) {
	t.Setenv("TRADELINK_EXCHANGE_URL", "")

	_, err := Load("")
	assert.ErrorContains(t, err, "exchange.base_url")

	_, err = Load(writeFile(t, "cfg.toml", "x = 1"))
	assert.ErrorContains(t, err, "不支持的配置文件格式")

	_, err = Load(writeFile(t, "cfg.yaml", "exchange:\n  base_url: https://x\ninventory:\n  coalesce_window: -1s\n"))
	assert.ErrorContains(t, err, "coalesce_window")
}
