package connector

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	mu       sync.Mutex
	probeErr error
	online   bool
	reported []string

	probes atomic.Int64
}

func (d *fakeDriver) Marketplace() domain.Marketplace { return domain.MarketplaceA }
func (d *fakeDriver) ProbeInterval() time.Duration    { return time.Hour }
func (d *fakeDriver) ReconnectDelay() time.Duration   { return 0 }

func (d *fakeDriver) Probe(context.Context, string) (ProbeResult, error) {
	d.probes.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	return ProbeResult{Online: d.online}, d.probeErr
}

func (d *fakeDriver) Report(_ context.Context, saleID, offerID string) error {
	d.mu.Lock()
	d.reported = append(d.reported, saleID+"->"+offerID)
	d.mu.Unlock()
	return nil
}

type fakePoll struct {
	fakeDriver
	pollErr error
	polls   atomic.Int64
}

func (d *fakePoll) PollInterval() time.Duration { return time.Hour }

func (d *fakePoll) Poll(context.Context) (Feed, error) {
	d.polls.Add(1)
	return Feed{}, d.pollErr
}

type fakePush struct {
	fakeDriver
}

func (d *fakePush) Endpoint(context.Context) (Endpoint, error) {
	return Endpoint{URL: "ws://fake"}, nil
}

func (d *fakePush) Decode(msg []byte) (Feed, error) {
	var f Feed
	err := json.Unmarshal(msg, &f)
	return f, err
}

type chanStream struct {
	msgs chan []byte
}

func (s *chanStream) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m := <-s.msgs:
		return m, nil
	}
}

func (s *chanStream) Close() error { return nil }

type fakeTransport struct {
	err    error
	stream *chanStream
	dials  atomic.Int64
}

func (t *fakeTransport) Dial(context.Context, Endpoint) (Stream, error) {
	t.dials.Add(1)
	if t.err != nil {
		return nil, t.err
	}
	return t.stream, nil
}

func TestConnector_RepeatedProbeFailuresEmitEachStateChange(t *testing.T) {
	d := &fakePoll{}
	d.probeErr = domain.ErrTransient
	c := New(d, nil)

	states := make(chan bool, 4)
	c.OnStateChange(func(online bool) { states <- online })

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	select {
	case online := <-states:
		assert.False(t, online)
	case <-time.After(time.Second):
		t.Fatal("first state change not delivered")
	}

	c.SetExchangeToken("tok")
	select {
	case online := <-states:
		assert.False(t, online)
	case <-time.After(time.Second):
		t.Fatal("second state change not delivered")
	}
	assert.Equal(t, StateDegraded, c.State())
}

func TestConnector_ProbeOnlineMovesToOnline(t *testing.T) {
	d := &fakePoll{}
	d.online = true
	c := New(d, nil)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	require.Eventually(t, func() bool { return c.State() == StateOnline }, time.Second, 5*time.Millisecond)
	assert.True(t, c.LastProbe().Online)
}

func TestConnector_DisconnectDuringBackoffSuppressesReconnect(t *testing.T) {
	d := &fakePush{}
	d.online = true
	tr := &fakeTransport{err: errors.New("connection refused")}
	c := New(d, tr)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return tr.dials.Load() == 1 }, time.Second, 5*time.Millisecond)

	c.Disconnect()
	assert.Equal(t, StateStopped, c.State())

	time.Sleep(MinReconnectDelay + 300*time.Millisecond)
	assert.Equal(t, int64(1), tr.dials.Load())

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	require.Eventually(t, func() bool { return tr.dials.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestConnector_UnauthorizedStopsLoops(t *testing.T) {
	d := &fakePoll{pollErr: domain.ErrUnauthorized}
	d.online = true
	c := New(d, nil)

	errs := make(chan error, 4)
	c.OnError(func(err error) { errs <- err })

	require.NoError(t, c.Connect(context.Background()))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	case <-time.After(time.Second):
		t.Fatal("error not emitted")
	}
	require.Eventually(t, func() bool { return c.State() == StateStopped }, time.Second, 5*time.Millisecond)

	c.Disconnect()
	assert.Equal(t, int64(1), d.polls.Load())
}

func TestConnector_SalesEmittedOncePerLifetime(t *testing.T) {
	d := &fakePush{}
	d.online = true
	tr := &fakeTransport{stream: &chanStream{msgs: make(chan []byte, 4)}}
	c := New(d, tr)

	var mu sync.Mutex
	var sales []domain.Sale
	var cancels, accepts []string
	c.OnSendTrade(func(s domain.Sale) {
		mu.Lock()
		sales = append(sales, s)
		mu.Unlock()
	})
	c.OnCancelTrade(func(id string) {
		mu.Lock()
		cancels = append(cancels, id)
		mu.Unlock()
	})
	c.OnAcceptWithdraw(func(id string) {
		mu.Lock()
		accepts = append(accepts, id)
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	tr.stream.msgs <- []byte(`{"Sales":[{"sale_id":"s1"},{"sale_id":"s1"}]}`)
	tr.stream.msgs <- []byte(`{"Sales":[{"sale_id":"s1"},{"sale_id":"s2"}],"Cancels":["o1"],"Accepts":["o2"]}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(accepts) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sales, 2)
	assert.Equal(t, "s1", sales[0].SaleID)
	assert.Equal(t, "s2", sales[1].SaleID)
	assert.Equal(t, domain.MarketplaceA, sales[0].Marketplace)
	assert.Equal(t, []string{"o1"}, cancels)
	assert.Equal(t, []string{"o2"}, accepts)
}

func TestConnector_EmitWithoutSubscribersIsNoop(t *testing.T) {
	d := &fakePoll{pollErr: domain.ErrTransient}
	d.probeErr = domain.ErrTransient
	c := New(d, nil)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return d.probes.Load() >= 1 && d.polls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	c.Disconnect()

	require.NoError(t, c.Report(context.Background(), "s1", "o1"))
	assert.Equal(t, []string{"s1->o1"}, d.reported)
}
