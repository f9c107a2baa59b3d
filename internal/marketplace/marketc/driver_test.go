package marketc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/pkg/config"
	sdkhttp "github.com/betbot/tradelink/pkg/sdk/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T, h http.Handler) *Driver {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	d, err := New("key-c", config.MarketplaceConfig{BaseURL: srv.URL, StreamURL: "wss://c.example/feed"},
		sdkhttp.WithRetry(0, 0, 0))
	require.NoError(t, err)
	return d
}

func TestDecode_NestedPayload(t *testing.T) {
	d := &Driver{}
	feed, err := d.Decode([]byte(`{"event":"new_sale","payload":"{\"sale_id\":42,\"partner_trade_url\":\"https://t/c\",\"assets\":[{\"app\":\"730\",\"ctx\":\"2\",\"id\":\"A7\"}]}"}`))
	require.NoError(t, err)
	require.Len(t, feed.Sales, 1)
	assert.Equal(t, "42", feed.Sales[0].SaleID)
	assert.Equal(t, "A7", feed.Sales[0].RequestedItems[0].AssetID)

	feed, err = d.Decode([]byte(`{"event":"sale_canceled","payload":"{\"tradeofferid\":\"o5\"}"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"o5"}, feed.Cancels)

	_, err = d.Decode([]byte(`{"event":"new_sale","payload":"{broken"}`))
	assert.Error(t, err)
}

func TestProbe_SuccessFalseWithBadKeyIsUnauthorized(t *testing.T) {
	d := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-c", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"success":false,"error":"Bad KEY"}`))
	}))
	_, err := d.Probe(context.Background(), "tok")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestProbe_Online(t *testing.T) {
	d := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"success":true,"online":true,"money":"100"}`))
	}))
	res, err := d.Probe(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, res.Online)
	assert.Equal(t, "100", res.Balance.String())
}

func TestEndpoint_CarriesKey(t *testing.T) {
	d, err := New("key-c", config.MarketplaceConfig{BaseURL: "http://c", StreamURL: "wss://c.example/feed"})
	require.NoError(t, err)
	ep, err := d.Endpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://c.example/feed?key=key-c", ep.URL)
}
