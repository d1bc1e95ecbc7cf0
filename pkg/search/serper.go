package search

import (
	"context"
	"fmt"

	"github.com/kart-io/company-chat/pkg/utils/httpclient"
	"github.com/kart-io/company-chat/pkg/utils/json"
)

// ProviderSerper https://serper.dev
const ProviderSerper = "serper"

const serperBaseURL = "https://google.serper.dev"

// Serper Google 结果代理。
type Serper struct {
	client *httpclient.Client
}

// NewSerper 创建 Serper 供应商。
func NewSerper(cfg *Config) *Serper {
	base := cfg.BaseURL
	if base == "" {
		base = serperBaseURL
	}
	httpCfg := httpclient.DefaultConfig()
	httpCfg.BaseURL = base
	httpCfg.Headers["X-API-KEY"] = cfg.APIKey
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	return &Serper{client: httpclient.NewClient(httpCfg)}
}

// Name implements Provider.
func (s *Serper) Name() string { return ProviderSerper }

type serperResponse struct {
	AnswerBox *struct {
		Title   string `json:"title"`
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"answerBox"`
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic"`
}

// Query implements Provider.
func (s *Serper) Query(ctx context.Context, query string, n int) ([]Result, error) {
	resp, err := s.client.R(ctx).
		SetBody(map[string]any{"q": query, "num": n}).
		Post("/search")
	if err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}

	var out serperResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, decodeError(ProviderSerper, err)
	}

	results := make([]Result, 0, len(out.Organic)+1)
	if ab := out.AnswerBox; ab != nil {
		answer := ab.Answer
		if answer == "" {
			answer = ab.Snippet
		}
		if answer != "" {
			results = append(results, Result{Title: "Direct answer", Snippet: answer, SourceURL: ab.Link})
		}
	}
	for i, r := range out.Organic {
		results = append(results, Result{
			Title:     r.Title,
			Snippet:   r.Snippet,
			SourceURL: r.Link,
			Rank:      i + 1,
		})
	}
	return results, nil
}
