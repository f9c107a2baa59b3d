package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketTransport_ReadsTextMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":1}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	tr := NewWebsocketTransport("")
	ep := Endpoint{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Header: http.Header{"Authorization": []string{"Bearer k"}},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := tr.Dial(ctx, ep)
	require.NoError(t, err)
	defer s.Close()

	msg, err := s.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":1}`, string(msg))
}

func TestWebsocketTransport_ReadReturnsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	tr := NewWebsocketTransport("")
	s, err := tr.Dial(context.Background(), Endpoint{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = s.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
