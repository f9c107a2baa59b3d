package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/pkg/ratelimit"
	sdkhttp "github.com/betbot/tradelink/pkg/sdk/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlatform(t *testing.T, h http.Handler) *RESTPlatform {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewRESTPlatform(srv.URL, "", nil, sdkhttp.WithRetry(0, 0, 0), sdkhttp.WithTimeout(5*time.Second))
}

func TestRESTPlatform_LoginThenInventoryCarriesToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "alice", req.Username)
		_ = json.NewEncoder(w).Encode(LoginResult{Identity: "id-1", AccessToken: "tok", RefreshToken: "rt"})
	})
	mux.HandleFunc("/inventory/id-1/730/2", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"items":[{"asset_id":"A1","class_id":"c1","name":"Knife","tradable":true,"extra":1},{"name":"no id"}]}`))
	})
	p := newTestPlatform(t, mux)

	res, err := p.Login(context.Background(), Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", res.Identity)

	items, err := p.FetchInventory(context.Background(), "id-1", domain.InventoryKey{CollectionID: "730", SubID: "2"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A1", items[0].AssetID)
	assert.True(t, items[0].Tradable)
	assert.Contains(t, string(items[0].Raw), `"extra":1`)
}

func TestRESTPlatform_ErrorClassification(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/inventory/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/offers/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/offers", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"item not tradable"}`))
	})
	p := newTestPlatform(t, mux)
	ctx := context.Background()

	_, err := p.FetchInventory(ctx, "id", domain.InventoryKey{CollectionID: "730", SubID: "2"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = p.GetOffer(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOfferNotFound)

	_, err = p.SendOffer(ctx, domain.OfferRequest{RecipientLink: "x", Items: []domain.Asset{{AssetID: "A1"}}})
	assert.ErrorIs(t, err, domain.ErrItemsUnavailable)
}

func TestRESTPlatform_ListOffersMarksDirection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/offers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("active_only"))
		_, _ = w.Write([]byte(`{"sent":[{"id":"s1","state":"active"}],"received":[{"id":"r1","state":"active","is_our_offer":true}]}`))
	})
	p := newTestPlatform(t, mux)

	offers, err := p.ListOffers(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.True(t, offers[0].IsOurOffer)
	assert.False(t, offers[1].IsOurOffer)
	assert.Equal(t, domain.OfferStateActive, offers[1].State)
}

func TestRESTPlatform_SendOfferIsNotReplayed(t *testing.T) {
	var posts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/offers" {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	// 与 cmd/server 相同的构造方式（默认重试配置）
	p := NewRESTPlatform(srv.URL, "", ratelimit.NewRateLimitManager())
	_, err := p.SendOffer(context.Background(), domain.OfferRequest{RecipientLink: "x", Items: []domain.Asset{{AssetID: "A1", Amount: 1}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, int64(1), posts.Load())
}
