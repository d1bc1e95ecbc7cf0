package search

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kart-io/company-chat/pkg/utils/httpclient"
	"github.com/kart-io/company-chat/pkg/utils/json"
)

// ProviderBrave https://api.search.brave.com/app/documentation/web-search
const ProviderBrave = "brave"

const braveBaseURL = "https://api.search.brave.com/res/v1"

// braveMaxCount Brave 单次请求最多返回 20 条
const braveMaxCount = 20

// Brave 搜索供应商。
type Brave struct {
	client *httpclient.Client
}

// NewBrave 创建 Brave 供应商。
func NewBrave(cfg *Config) *Brave {
	base := cfg.BaseURL
	if base == "" {
		base = braveBaseURL
	}
	httpCfg := httpclient.DefaultConfig()
	httpCfg.BaseURL = base
	httpCfg.Headers["Accept"] = "application/json"
	httpCfg.Headers["X-Subscription-Token"] = cfg.APIKey
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	return &Brave{client: httpclient.NewClient(httpCfg)}
}

// Name implements Provider.
func (b *Brave) Name() string { return ProviderBrave }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Query implements Provider.
func (b *Brave) Query(ctx context.Context, query string, n int) ([]Result, error) {
	if n > braveMaxCount {
		n = braveMaxCount
	}
	resp, err := b.client.R(ctx).
		SetQueryParams(map[string]string{
			"q":     query,
			"count": strconv.Itoa(n),
		}).
		Get("/web/search")
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}

	var out braveResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, decodeError(ProviderBrave, err)
	}

	results := make([]Result, 0, len(out.Web.Results))
	for i, r := range out.Web.Results {
		results = append(results, Result{
			Title:     r.Title,
			Snippet:   r.Description,
			SourceURL: r.URL,
			Rank:      i + 1,
		})
	}
	return results, nil
}
