package exchange_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/exchange"
	"github.com/betbot/tradelink/internal/exchange/exchangetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []exchange.Event
}

func (r *recorder) add(ev exchange.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []exchange.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]exchange.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestSession_AuthenticateEmitsRotationAndWebSession(t *testing.T) {
	fp := exchangetest.NewFakePlatform()
	fp.NextRefresh = "rt-2"
	s := exchange.NewSession(fp, exchange.SessionConfig{})
	rec := &recorder{}
	s.OnSessionEvent(rec.add)

	require.NoError(t, s.Authenticate(context.Background(), exchange.Credentials{Username: "alice", RefreshToken: "rt-1"}))
	assert.True(t, s.Authenticated())
	assert.Equal(t, "rt-2", s.RefreshToken())
	assert.Equal(t, []exchange.EventKind{exchange.EventCredentialRotated, exchange.EventWebSession}, rec.kinds())
}

func TestSession_AuthenticateWithoutRotation(t *testing.T) {
	fp := exchangetest.NewFakePlatform()
	s := exchange.NewSession(fp, exchange.SessionConfig{})
	rec := &recorder{}
	s.OnSessionEvent(rec.add)

	require.NoError(t, s.Authenticate(context.Background(), exchange.Credentials{Username: "alice", RefreshToken: "rt-1"}))
	// refresh token 未变化：只有 web session 事件
	assert.Equal(t, []exchange.EventKind{exchange.EventWebSession}, rec.kinds())
}

func TestSession_LoginFailureIsUnauthorized(t *testing.T) {
	fp := exchangetest.NewFakePlatform()
	fp.LoginErr = errors.New("bad password")
	s := exchange.NewSession(fp, exchange.SessionConfig{})
	rec := &recorder{}
	s.OnSessionEvent(rec.add)

	err := s.Authenticate(context.Background(), exchange.Credentials{Username: "alice", Password: "x"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, s.Authenticated())
	assert.Equal(t, []exchange.EventKind{exchange.EventLoginFailed}, rec.kinds())
}

func TestSession_OperationsRequireIdentity(t *testing.T) {
	s := exchange.NewSession(exchangetest.NewFakePlatform(), exchange.SessionConfig{})
	_, err := s.FetchInventory(context.Background(), domain.InventoryKey{CollectionID: "730", SubID: "2"})
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = s.ActiveOffers(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestSession_CancelAndAcceptAreIdempotent(t *testing.T) {
	ctx := context.Background()
	fp := exchangetest.NewFakePlatform()
	s := exchange.NewSession(fp, exchange.SessionConfig{})
	require.NoError(t, s.Authenticate(ctx, exchange.Credentials{Username: "alice", Password: "pw"}))

	fp.PutOffer(domain.TradeOffer{ID: "o1", State: domain.OfferStateAccepted, IsOurOffer: true})
	// 平台拒绝取消，但报价已是最终状态：视为成功
	fp.CancelErrs = []error{errors.New("offer not active")}
	assert.NoError(t, s.CancelOffer(ctx, "o1"))

	fp.PutOffer(domain.TradeOffer{ID: "o2", State: domain.OfferStateDeclined})
	fp.AcceptErr = errors.New("offer not active")
	assert.NoError(t, s.AcceptOffer(ctx, "o2"))

	// 仍然 active 的报价失败要如实返回
	fp.PutOffer(domain.TradeOffer{ID: "o3", State: domain.OfferStateActive})
	assert.Error(t, s.AcceptOffer(ctx, "o3"))
}

func TestSession_OfferPollEmitsNewReceivedOffersOnce(t *testing.T) {
	ctx := context.Background()
	fp := exchangetest.NewFakePlatform()
	s := exchange.NewSession(fp, exchange.SessionConfig{OfferPollInterval: 20 * time.Millisecond})
	require.NoError(t, s.Authenticate(ctx, exchange.Credentials{Username: "alice", Password: "pw"}))

	newOffers := make(chan *domain.TradeOffer, 10)
	s.OnSessionEvent(func(ev exchange.Event) {
		if ev.Kind == exchange.EventNewOffer {
			newOffers <- ev.Offer
		}
	})
	fp.PutOffer(domain.TradeOffer{ID: "gift-1", State: domain.OfferStateActive, ItemsToGet: []domain.Asset{{AssetID: "X"}}})
	fp.PutOffer(domain.TradeOffer{ID: "mine", State: domain.OfferStateActive, IsOurOffer: true})

	s.Start(ctx)
	defer s.Shutdown()

	select {
	case o := <-newOffers:
		assert.Equal(t, "gift-1", o.ID)
		assert.True(t, o.IsGift())
	case <-time.After(2 * time.Second):
		t.Fatal("没有收到新报价事件")
	}
	// 后续轮询不重复发出同一报价
	select {
	case o := <-newOffers:
		t.Fatalf("重复事件: %s", o.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_ShutdownForgetsIdentity(t *testing.T) {
	ctx := context.Background()
	s := exchange.NewSession(exchangetest.NewFakePlatform(), exchange.SessionConfig{OfferPollInterval: time.Hour})
	require.NoError(t, s.Authenticate(ctx, exchange.Credentials{Username: "alice", Password: "pw"}))
	s.Start(ctx)
	s.Shutdown()
	assert.False(t, s.Authenticated())
}
