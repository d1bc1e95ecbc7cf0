// Package httpclient provides the shared resty-based HTTP client used by the external gateways.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kart-io/company-chat/pkg/utils/json"
)

// maxErrorBody 错误响应体保留的最大字节数
const maxErrorBody = 512

// Config HTTP 客户端配置选项
type Config struct {
	// Timeout 单次请求超时时间
	Timeout time.Duration

	// BaseURL 基础 URL（可选）
	BaseURL string

	// Headers 默认请求头
	Headers map[string]string

	// MaxIdleConnsPerHost 每个主机的最大空闲连接数
	MaxIdleConnsPerHost int

	// Debug 是否启用调试模式
	Debug bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout:             15 * time.Second,
		Headers:             make(map[string]string),
		MaxIdleConnsPerHost: 16,
	}
}

// Client wraps resty.Client. Retries are disabled here; callers own their retry policy.
type Client struct {
	resty  *resty.Client
	config *Config
}

// NewClient 创建新的 HTTP 客户端，config 为 nil 时使用默认配置
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	restyClient := resty.New().
		SetTimeout(config.Timeout).
		SetRetryCount(0).
		SetHeaders(config.Headers).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	if config.BaseURL != "" {
		restyClient.SetBaseURL(config.BaseURL)
	}
	if config.Debug {
		restyClient.SetDebug(true)
	}

	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			ForceAttemptHTTP2:   true,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	transport.MaxIdleConnsPerHost = config.MaxIdleConnsPerHost
	transport.IdleConnTimeout = 90 * time.Second
	restyClient.SetTransport(transport)

	return &Client{
		resty:  restyClient,
		config: config,
	}
}

// R 返回一个绑定了 ctx 的新请求
func (c *Client) R(ctx context.Context) *resty.Request {
	return c.resty.R().SetContext(ctx)
}

// Resty 返回底层的 resty 客户端
func (c *Client) Resty() *resty.Client {
	return c.resty
}

// Timeout returns the configured per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.config.Timeout
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the upstream failure is worth one more attempt.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout
}

// CheckResponse converts a non-2xx response into a *StatusError.
func CheckResponse(resp *resty.Response) error {
	if resp == nil {
		return fmt.Errorf("nil response")
	}
	if resp.IsSuccess() {
		return nil
	}
	body := resp.String()
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{StatusCode: resp.StatusCode(), Body: body}
}
