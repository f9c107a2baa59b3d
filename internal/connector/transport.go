package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultPingInterval     = 30 * time.Second
)

// Stream 一条已建立的推送连接
type Stream interface {
	// Read 阻塞读取下一条消息；ctx 结束时返回错误
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Transport 建立推送连接
type Transport interface {
	Dial(ctx context.Context, ep Endpoint) (Stream, error)
}

// WebsocketTransport gorilla websocket 实现
type WebsocketTransport struct {
	ProxyURL         string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
}

// NewWebsocketTransport 创建 websocket 传输（proxyURL 可为空）
func NewWebsocketTransport(proxyURL string) *WebsocketTransport {
	return &WebsocketTransport{
		ProxyURL:         proxyURL,
		HandshakeTimeout: defaultHandshakeTimeout,
		PingInterval:     defaultPingInterval,
	}
}

func (t *WebsocketTransport) Dial(ctx context.Context, ep Endpoint) (Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if t.ProxyURL != "" {
		proxyURL, err := url.Parse(t.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("无效的代理 URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, resp, err := dialer.DialContext(ctx, ep.URL, ep.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", ep.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
	}

	s := &wsStream{conn: conn, done: make(chan struct{})}
	if t.PingInterval > 0 {
		go s.pingLoop(t.PingInterval)
	}
	return s, nil
}

type wsStream struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsStream) Read(ctx context.Context) ([]byte, error) {
	// ReadMessage 不感知 ctx：ctx 结束时关闭连接让读取返回
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		typ, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (s *wsStream) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
