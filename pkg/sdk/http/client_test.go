package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_DecodesAndSendsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/items", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("page"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		// 故意不带 Content-Type
		_, _ = w.Write([]byte(`{"name":"ok","count":3}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithHeader("X-Api-Key", "secret"), WithRetry(0, 0, 0))
	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	err := c.Do(context.Background(), http.MethodGet, "/v1/items", &RequestOptions{Params: map[string]any{"page": 7}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Name)
	assert.Equal(t, 3, out.Count)
}

func TestDo_ClassifiesStatus(t *testing.T) {
	cases := []struct {
		code int
		kind error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusBadGateway, ErrTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		}))
		c := NewClient(srv.URL, WithRetry(0, 0, 0))
		err := c.Do(context.Background(), http.MethodPost, "/x", &RequestOptions{Data: map[string]string{"a": "b"}}, nil)
		srv.Close()

		require.Error(t, err, "status %d", tc.code)
		assert.True(t, errors.Is(err, tc.kind), "status %d: %v", tc.code, err)
		var he *HTTPError
		require.True(t, errors.As(err, &he))
		assert.Equal(t, tc.code, he.StatusCode)
		assert.Equal(t, "boom", he.Body)
	}
}

func TestDo_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewClient(url, WithRetry(0, 0, 0)).Do(context.Background(), http.MethodGet, "/", nil, nil)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestDo_UnsupportedMethod(t *testing.T) {
	err := NewClient("http://127.0.0.1:1").Do(context.Background(), "PATCHY", "/", nil, nil)
	require.Error(t, err)
}

func TestDo_NoRetrySendsOnce(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(2, time.Millisecond, time.Millisecond))
	ctx := context.Background()

	err := c.Do(ctx, http.MethodPost, "/orders", &RequestOptions{Data: map[string]string{"a": "b"}, NoRetry: true}, nil)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int64(1), hits.Load())

	hits.Store(0)
	err = c.Do(ctx, http.MethodGet, "/orders", nil, nil)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int64(3), hits.Load())
}
