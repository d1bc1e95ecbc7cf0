// Package search provides web search gateway options.
package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

var apiKeyEnv = map[string]string{
	"tavily": "TAVILY_API_KEY",
	"serper": "SERPER_API_KEY",
	"brave":  "BRAVE_API_KEY",
}

// Options 搜索网关配置。
type Options struct {
	// Provider 供应商：tavily、serper、brave。
	Provider string `json:"provider" mapstructure:"provider"`
	// APIKey 为空时从 <PROVIDER>_API_KEY 读取。
	APIKey string `json:"-" mapstructure:"api-key"`
	// BaseURL 覆盖供应商默认地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`
	// MaxResults 每次查询的结果数。
	MaxResults int `json:"max-results" mapstructure:"max-results"`
	// Timeout 单次搜索超时（含一次重试）。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// SearchDepth tavily 搜索深度。
	SearchDepth string `json:"search-depth" mapstructure:"search-depth"`
	// IncludeAnswer 是否请求供应商的直接答案。
	IncludeAnswer bool `json:"include-answer" mapstructure:"include-answer"`
}

// NewOptions 创建默认配置。
func NewOptions() *Options {
	return &Options{
		Provider:      "tavily",
		MaxResults:    5,
		Timeout:       15 * time.Second,
		SearchDepth:   "advanced",
		IncludeAnswer: true,
	}
}

// AddFlags adds flags for search options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "search."
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Web search provider (tavily, serper, brave).")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "Search API key (defaults to TAVILY_API_KEY / SERPER_API_KEY / BRAVE_API_KEY).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Override the provider base URL.")
	fs.IntVar(&o.MaxResults, p+"max-results", o.MaxResults, "Results per query (1-5).")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Search timeout including one retry.")
	fs.StringVar(&o.SearchDepth, p+"search-depth", o.SearchDepth, "Tavily search depth (basic, advanced).")
	fs.BoolVar(&o.IncludeAnswer, p+"include-answer", o.IncludeAnswer, "Ask the provider for a direct answer.")
}

// Complete completes the search options.
func (o *Options) Complete() error {
	o.Provider = strings.ToLower(strings.TrimSpace(o.Provider))
	if o.APIKey == "" {
		o.APIKey = options.FirstEnv(apiKeyEnv[o.Provider])
	}
	return nil
}

// Validate validates the search options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	env, known := apiKeyEnv[o.Provider]
	if !known {
		errs = append(errs, errno.ErrConfiguration.WithMessagef("search.provider %q is not supported (tavily, serper, brave)", o.Provider))
	} else if o.APIKey == "" {
		errs = append(errs, errno.ErrConfiguration.WithMessagef("search.api-key is required for %s (set %s)", o.Provider, env))
	}
	if o.MaxResults < 1 || o.MaxResults > 5 {
		errs = append(errs, fmt.Errorf("search.max-results must be within [1, 5], got %d", o.MaxResults))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("search.timeout must be positive"))
	}
	return errs
}
