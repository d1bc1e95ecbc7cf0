package search

import (
	"context"
	"fmt"

	"github.com/kart-io/company-chat/pkg/utils/httpclient"
	"github.com/kart-io/company-chat/pkg/utils/json"
)

// ProviderTavily https://docs.tavily.com
const ProviderTavily = "tavily"

const tavilyBaseURL = "https://api.tavily.com"

// Tavily 搜索供应商。
type Tavily struct {
	client        *httpclient.Client
	apiKey        string
	searchDepth   string
	includeAnswer bool
}

// NewTavily 创建 Tavily 供应商。
func NewTavily(cfg *Config) *Tavily {
	base := cfg.BaseURL
	if base == "" {
		base = tavilyBaseURL
	}
	httpCfg := httpclient.DefaultConfig()
	httpCfg.BaseURL = base
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	depth := cfg.SearchDepth
	if depth == "" {
		depth = "advanced"
	}
	return &Tavily{
		client:        httpclient.NewClient(httpCfg),
		apiKey:        cfg.APIKey,
		searchDepth:   depth,
		includeAnswer: cfg.IncludeAnswer,
	}
}

// Name implements Provider.
func (t *Tavily) Name() string { return ProviderTavily }

type tavilyRequest struct {
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Query implements Provider.
func (t *Tavily) Query(ctx context.Context, query string, n int) ([]Result, error) {
	resp, err := t.client.R(ctx).
		SetAuthToken(t.apiKey).
		SetBody(tavilyRequest{
			Query:         query,
			SearchDepth:   t.searchDepth,
			MaxResults:    n,
			IncludeAnswer: t.includeAnswer,
		}).
		Post("/search")
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	var out tavilyResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, decodeError(ProviderTavily, err)
	}

	results := make([]Result, 0, len(out.Results)+1)
	if out.Answer != "" {
		results = append(results, Result{
			Title:   "Direct answer",
			Snippet: out.Answer,
			Rank:    0,
		})
	}
	for i, r := range out.Results {
		results = append(results, Result{
			Title:     r.Title,
			Snippet:   r.Content,
			SourceURL: r.URL,
			Rank:      i + 1,
		})
	}
	return results, nil
}
