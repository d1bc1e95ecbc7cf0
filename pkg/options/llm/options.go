// Package llm provides LLM provider configuration options.
package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// 支持的供应商。
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// apiKeyEnv 每个供应商在 api-key 为空时读取的环境变量。
var apiKeyEnv = map[string][]string{
	ProviderGemini: {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	ProviderOpenAI: {"OPENAI_API_KEY"},
}

// ProviderOptions 定义 LLM 供应商配置。
type ProviderOptions struct {
	// Provider 供应商名称（gemini, openai）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址，为空时使用供应商默认值。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥。为空时从环境变量读取。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// VisionModel 图片识别使用的模型（gemini），为空时使用 Model。
	VisionModel string `json:"vision-model" mapstructure:"vision-model"`

	// Temperature 回答生成的采样温度。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// MaxTokens 回答最大 token 数。
	MaxTokens int `json:"max-tokens" mapstructure:"max-tokens"`

	// Timeout 单次请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 查询改写的最大尝试次数，1 表示不重试；回答生成始终只调用一次。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// BreakerThreshold 连续失败多少次后熔断。
	BreakerThreshold int `json:"breaker-threshold" mapstructure:"breaker-threshold"`

	// BreakerTimeout 熔断后多久进入半开。
	BreakerTimeout time.Duration `json:"breaker-timeout" mapstructure:"breaker-timeout"`

	// Organization 组织 ID（OpenAI 可选）。
	Organization string `json:"organization" mapstructure:"organization"`
}

// NewChatOptions 创建默认 Chat 供应商配置。
func NewChatOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:         ProviderGemini,
		Model:            "gemini-2.0-flash-exp",
		Temperature:      0.7,
		MaxTokens:        800,
		Timeout:          30 * time.Second,
		MaxRetries:       1,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":     o.BaseURL,
		"api_key":      o.APIKey,
		"chat_model":   o.Model,
		"vision_model": o.VisionModel,
		"temperature":  o.Temperature,
		"max_tokens":   o.MaxTokens,
		"timeout":      o.Timeout,
		"organization": o.Organization,
	}
}

// AddFlags adds flags for LLM provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "llm."
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "LLM provider (gemini, openai).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "LLM API base URL (empty for the provider default).")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "LLM API key (defaults to GOOGLE_API_KEY / OPENAI_API_KEY).")
	fs.StringVar(&o.Model, p+"model", o.Model, "LLM model name.")
	fs.StringVar(&o.VisionModel, p+"vision-model", o.VisionModel, "Vision model name for image OCR (gemini).")
	fs.Float64Var(&o.Temperature, p+"temperature", o.Temperature, "Sampling temperature for answers.")
	fs.IntVar(&o.MaxTokens, p+"max-tokens", o.MaxTokens, "Maximum answer tokens.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "LLM request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "LLM attempts per query rewrite call (1 disables retry); answers are never retried.")
	fs.IntVar(&o.BreakerThreshold, p+"breaker-threshold", o.BreakerThreshold, "Consecutive failures that open the circuit breaker.")
	fs.DurationVar(&o.BreakerTimeout, p+"breaker-timeout", o.BreakerTimeout, "How long the circuit breaker stays open.")
	fs.StringVar(&o.Organization, p+"organization", o.Organization, "LLM organization ID (optional).")
}

// Complete completes the LLM provider options with defaults and env credentials.
func (o *ProviderOptions) Complete() error {
	o.Provider = strings.ToLower(strings.TrimSpace(o.Provider))
	if o.APIKey == "" {
		o.APIKey = options.FirstEnv(apiKeyEnv[o.Provider]...)
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 1
	}
	return nil
}

// Validate validates the LLM provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	envs, known := apiKeyEnv[o.Provider]
	if !known {
		errs = append(errs, errno.ErrConfiguration.WithMessagef("llm.provider %q is not supported (gemini, openai)", o.Provider))
	} else if o.APIKey == "" {
		errs = append(errs, errno.ErrConfiguration.WithMessagef("llm.api-key is required for %s (set %s)", o.Provider, strings.Join(envs, " or ")))
	}
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required"))
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be within [0, 2]"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout must be positive"))
	}
	return errs
}
