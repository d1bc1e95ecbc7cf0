// Package search 提供网页搜索网关：统一的结果类型、数量上限、
// 一次重试以及错误分类，具体供应商（tavily、serper、brave）在各自文件中实现。
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kart-io/logger"

	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/resilience"
	"github.com/kart-io/company-chat/pkg/utils/httpclient"
)

// 错误原因，随 errno.ErrSearch 的 Reason 返回。
const (
	ReasonNetwork     = "network"
	ReasonRateLimited = "rate_limited"
	ReasonAuth        = "auth"
	ReasonUpstream    = "upstream"
	ReasonDecode      = "decode"
)

// Result 一条搜索结果。Rank 从 1 开始，0 保留给供应商直接给出的答案。
type Result struct {
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	SourceURL string `json:"source_url"`
	Rank      int    `json:"rank"`
}

// IsDirectAnswer 是否为供应商生成的直接答案。
func (r Result) IsDirectAnswer() bool {
	return r.Rank == 0
}

// Searcher 搜索网关接口。
type Searcher interface {
	// Search 返回按相关度排序的结果。maxResults <= 0 使用默认值，超过上限会被截断。
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Provider 单个搜索供应商，只负责一次 HTTP 调用。
type Provider interface {
	Name() string
	Query(ctx context.Context, query string, n int) ([]Result, error)
}

// errDecode 标记响应体无法解析
var errDecode = errors.New("decode response")

func decodeError(provider string, err error) error {
	return fmt.Errorf("%s: %w: %v", provider, errDecode, err)
}

// Config 搜索网关配置。
type Config struct {
	// Provider 供应商名称：tavily、serper、brave。
	Provider string
	// APIKey 供应商密钥。
	APIKey string
	// BaseURL 覆盖供应商默认地址（测试或代理）。
	BaseURL string
	// MaxResults 调用方未指定时的默认数量。
	MaxResults int
	// MaxResultsCap 单次请求数量上限。
	MaxResultsCap int
	// Timeout 单次 Search 的总超时（包含重试）。
	Timeout time.Duration
	// SearchDepth tavily 搜索深度：basic 或 advanced。
	SearchDepth string
	// IncludeAnswer tavily 是否返回直接答案（作为 rank 0 结果）。
	IncludeAnswer bool
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		Provider:      ProviderTavily,
		MaxResults:    5,
		MaxResultsCap: 10,
		Timeout:       15 * time.Second,
		SearchDepth:   "advanced",
		IncludeAnswer: true,
	}
}

// Observer 每次 Search 结束后回调，用于指标采集。
type Observer func(provider, outcome string, elapsed time.Duration)

// Gateway 包装一个 Provider，实现 Searcher。
type Gateway struct {
	provider Provider
	cfg      *Config
	retry    *resilience.RetryConfig
	observe  Observer
}

// GatewayOption 配置 Gateway。
type GatewayOption func(*Gateway)

// WithObserver 设置指标回调。
func WithObserver(o Observer) GatewayOption {
	return func(g *Gateway) { g.observe = o }
}

// WithRetry 覆盖重试策略。
func WithRetry(r *resilience.RetryConfig) GatewayOption {
	return func(g *Gateway) { g.retry = r }
}

// New 根据配置创建供应商并包装成 Gateway。
func New(cfg *Config, opts ...GatewayOption) (*Gateway, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.APIKey == "" {
		return nil, errno.ErrConfiguration.WithMessagef("search: api key for provider %q is required", cfg.Provider)
	}

	var p Provider
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderTavily:
		p = NewTavily(cfg)
	case ProviderSerper:
		p = NewSerper(cfg)
	case ProviderBrave:
		p = NewBrave(cfg)
	default:
		return nil, errno.ErrConfiguration.WithMessagef("search: unknown provider %q", cfg.Provider)
	}
	return NewGateway(p, cfg, opts...), nil
}

// NewGateway 使用已有 Provider 创建 Gateway。
func NewGateway(p Provider, cfg *Config, opts ...GatewayOption) *Gateway {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	g := &Gateway{
		provider: p,
		cfg:      cfg,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name 返回底层供应商名称。
func (g *Gateway) Name() string {
	return g.provider.Name()
}

// Search implements Searcher.
func (g *Gateway) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errno.ErrInvalidTurn.WithMessage("search query is empty")
	}
	n := g.clamp(maxResults)

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	var results []Result
	err := resilience.RetryWithBackoff(ctx, g.retry, func(ctx context.Context) error {
		var err error
		results, err = g.provider.Query(ctx, query, n)
		return err
	})
	elapsed := time.Since(start)

	if err != nil {
		reason := classify(err)
		g.report(reason, elapsed)
		logger.Warnw("search failed",
			"provider", g.provider.Name(),
			"reason", reason,
			"error", err.Error(),
		)
		return nil, errno.ErrSearch.WithReason(reason).WithCause(err)
	}

	results = normalize(results, n)
	g.report("ok", elapsed)
	logger.Debugw("search completed",
		"provider", g.provider.Name(),
		"results", len(results),
		"elapsed", elapsed,
	)
	return results, nil
}

func (g *Gateway) clamp(n int) int {
	if n <= 0 {
		n = g.cfg.MaxResults
	}
	if n <= 0 {
		n = 5
	}
	if g.cfg.MaxResultsCap > 0 && n > g.cfg.MaxResultsCap {
		n = g.cfg.MaxResultsCap
	}
	return n
}

func (g *Gateway) report(outcome string, elapsed time.Duration) {
	if g.observe != nil {
		g.observe(g.provider.Name(), outcome, elapsed)
	}
}

// normalize 截断到 n 条普通结果并重新编号；直接答案保留在最前面且不占名额。
func normalize(in []Result, n int) []Result {
	out := make([]Result, 0, n+1)
	rank := 0
	for _, r := range in {
		if r.IsDirectAnswer() {
			if len(out) == 0 {
				out = append(out, r)
			}
			continue
		}
		if rank >= n {
			continue
		}
		rank++
		r.Rank = rank
		out = append(out, r)
	}
	return out
}

func classify(err error) string {
	var statusErr *httpclient.StatusError
	switch {
	case errors.As(err, &statusErr):
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ReasonAuth
		case http.StatusTooManyRequests:
			return ReasonRateLimited
		case 432, 433:
			// tavily 用 432/433 表示额度用尽
			return ReasonRateLimited
		default:
			return ReasonUpstream
		}
	case errors.Is(err, errDecode):
		return ReasonDecode
	default:
		return ReasonNetwork
	}
}
