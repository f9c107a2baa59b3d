package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/tradelink/pkg/ratelimit"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// 远端错误分类（通过 errors.Is 判断）
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrTransient    = errors.New("transient network error")
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
)

// HTTPError 非 2xx 响应或传输错误
type HTTPError struct {
	StatusCode int
	Body       string
	Kind       error
	Cause      error
}

func (e *HTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
	}
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("http %d (%v): %s", e.StatusCode, e.Kind, body)
}

func (e *HTTPError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Client resty 封装：限流、429 Retry-After、错误分类
type Client struct {
	client  *resty.Client
	once    *resty.Client // 不重试，用于非幂等请求
	limiter ratelimit.RateLimiter
}

// Option 客户端选项
type Option func(*Client)

func (c *Client) each(fn func(rc *resty.Client)) {
	fn(c.client)
	fn(c.once)
}

// WithProxy 设置代理（空字符串忽略）
func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(proxyURL) != "" {
			c.each(func(rc *resty.Client) { rc.SetProxy(proxyURL) })
		}
	}
}

// WithTimeout 单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.each(func(rc *resty.Client) { rc.SetTimeout(d) })
		}
	}
}

// WithRetry 传输层重试（429/5xx/连接错误）；count=0 关闭。NoRetry 请求不受影响。
func WithRetry(count int, wait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.client.SetRetryCount(count).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(maxWait)
	}
}

// WithLimiter 请求前等待限流器
func WithLimiter(l ratelimit.RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHeader 客户端级 Header
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.each(func(rc *resty.Client) { rc.SetHeader(key, value) })
	}
}

func newResty(host string) *resty.Client {
	return resty.New().
		SetBaseURL(host).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tradelink/1.0")
}

// NewClient 创建客户端；默认 30s 超时、重试 2 次
func NewClient(host string, opts ...Option) *Client {
	host = strings.TrimSuffix(host, "/")

	rc := newResty(host).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(10*time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code >= 500
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 优先使用 Retry-After
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs >= 0 {
						return time.Duration(secs) * time.Second, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	c := &Client{client: rc, once: newResty(host).SetRetryCount(0)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestOptions 单次请求参数
type RequestOptions struct {
	Headers map[string]string
	Data    any
	Params  map[string]any
	// NoRetry 只发送一次（创建类的非幂等请求），失败直接返回
	NoRetry bool
}

func (c *Client) newRequest(ctx context.Context, noRetry bool) *resty.Request {
	rc := c.client
	if noRetry {
		rc = c.once
	}
	r := rc.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	return r
}

// DoRequest 发送请求，返回原始响应（不做状态码分类）
func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	rc := c.newRequest(ctx, opt != nil && opt.NoRetry)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
		if opt.Data != nil {
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Data)
		}
	}
	if out != nil {
		// 部分平台返回 JSON 但不带 Content-Type
		rc.SetResult(out).ForceContentType("application/json")
	}

	switch strings.ToUpper(method) {
	case http.MethodGet:
		return rc.Get(endpoint)
	case http.MethodPost:
		return rc.Post(endpoint)
	case http.MethodDelete:
		return rc.Delete(endpoint)
	case http.MethodPut:
		return rc.Put(endpoint)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
}

// Do 发送请求并分类错误；out 仅在 2xx 时填充
func (c *Client) Do(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) error {
	resp, err := c.DoRequest(ctx, method, endpoint, opt, out)
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return ParseHTTPError(resp, err)
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// ParseHTTPError 将 resty 结果分类为 *HTTPError；2xx 返回 nil
func ParseHTTPError(resp *resty.Response, err error) error {
	if err != nil {
		return &HTTPError{Kind: ErrTransient, Cause: errors.Wrap(err, "request failed")}
	}
	if resp == nil {
		return &HTTPError{Kind: ErrTransient, Cause: errors.New("empty response")}
	}
	if resp.IsSuccess() {
		return nil
	}
	code := resp.StatusCode()
	return &HTTPError{
		StatusCode: code,
		Body:       errorBody(resp.Body()),
		Kind:       KindForStatus(code),
	}
}

// KindForStatus 状态码 → 错误分类
func KindForStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return ErrTransient
	default:
		return ErrBadRequest
	}
}

func errorBody(b []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(b))
}
