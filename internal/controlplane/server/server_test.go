package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/betbot/tradelink/internal/coordinator"
	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/exchange"
	"github.com/betbot/tradelink/internal/exchange/exchangetest"
	"github.com/betbot/tradelink/internal/marketplace"
	"github.com/betbot/tradelink/internal/notify"
	"github.com/betbot/tradelink/internal/storage"
	"github.com/betbot/tradelink/pkg/config"
	"github.com/betbot/tradelink/pkg/persistence"
	"github.com/betbot/tradelink/pkg/ratelimit"
	"github.com/betbot/tradelink/pkg/secretstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	h    http.Handler
	fake *exchangetest.FakePlatform
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	ss, err := secretstore.Open(secretstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })
	db, err := storage.OpenSQLite(filepath.Join(dir, "inv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Exchange.OfferPollInterval = 0
	cfg.Exchange.SessionRefreshInterval = 0
	cfg.Inventory.RefreshInterval = 0

	fake := exchangetest.NewFakePlatform()
	reg := coordinator.NewRegistry(coordinator.Deps{
		Config:      cfg,
		Accounts:    storage.NewAccountStore(ss),
		Inventory:   storage.NewInventoryRepo(db),
		Persistence: persistence.NewJSONFileService(cfg.OffersDir()),
		Platforms:   func(string) exchange.Platform { return fake },
		Connectors:  marketplace.NewFactory(cfg, ratelimit.NewRateLimitManager()),
		Notifier:    notify.NewLogNotifier("test"),
		Appender:    notify.NewFileAppender(),
	})
	t.Cleanup(reg.Close)
	return &testServer{h: New(reg).Router(), fake: fake}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (ts *testServer) login(t *testing.T) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/sessions", coordinator.LoginRequest{Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLoginAndStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions", coordinator.LoginRequest{Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	st := decode[coordinator.Status](t, rec)
	assert.True(t, st.Authenticated)
	assert.Equal(t, ts.fake.Identity, st.Identity)
	assert.Len(t, st.Marketplaces, 4)

	rec = ts.do(t, http.MethodGet, "/api/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"alice"}, decode[map[string][]string](t, rec)["accounts"])

	rec = ts.do(t, http.MethodGet, "/api/accounts/alice/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginValidationAndFailure(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions", coordinator.LoginRequest{Username: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.fake.LoginErr = errors.New("bad password")
	rec = ts.do(t, http.MethodPost, "/api/sessions", coordinator.LoginRequest{Username: "alice", Password: "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.NotEmpty(t, body["request_id"])
	assert.Contains(t, body["error"], "bad password")
}

func TestUnknownAccountIs404(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/accounts/nobody/status", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/accounts/nobody", nil).Code)
}

func TestMarketplaceEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t)

	rec := ts.do(t, http.MethodPost, "/api/accounts/alice/marketplaces/marketx/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/accounts/alice/marketplaces/marketb/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], domain.ErrMissingAPIKey.Error())

	rec = ts.do(t, http.MethodPut, "/api/accounts/alice/marketplaces/MarketB/api-key", apiKeyRequest{APIKey: "key-b"})
	require.Equal(t, http.StatusOK, rec.Code)
	ms := decode[coordinator.MarketplaceStatus](t, rec)
	assert.True(t, ms.HasAPIKey)
	assert.False(t, ms.Running)

	rec = ts.do(t, http.MethodPost, "/api/accounts/alice/marketplaces/marketb/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ms = decode[coordinator.MarketplaceStatus](t, rec)
	assert.False(t, ms.Running)
	assert.False(t, ms.CanSell)
}

func TestSettingsPauseResumeLogout(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t)

	rec := ts.do(t, http.MethodPut, "/api/accounts/alice/settings", domain.UserSettings{GiftAutoAccept: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[coordinator.Status](t, rec).User.GiftAutoAccept)

	rec = ts.do(t, http.MethodPost, "/api/accounts/alice/trading/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]any](t, rec)["halted"].(bool))

	rec = ts.do(t, http.MethodPost, "/api/accounts/alice/trading/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[map[string]any](t, rec)["halted"].(bool))

	rec = ts.do(t, http.MethodDelete, "/api/accounts/alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/accounts/alice/status", nil).Code)
}
