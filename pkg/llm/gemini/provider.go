// Package gemini 提供 Google Gemini 供应商实现，支持文本对话与图片识别。
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/company-chat/pkg/llm"
	"github.com/kart-io/company-chat/pkg/utils/httpclient"
)

const ProviderName = "gemini"

func init() {
	llm.RegisterChatProvider(ProviderName, func(config map[string]any) (llm.ChatProvider, error) {
		return NewProvider(config)
	})
	llm.RegisterVisionProvider(ProviderName, func(config map[string]any) (llm.VisionProvider, error) {
		return NewProvider(config)
	})
}

// Config Gemini 供应商配置。
type Config struct {
	// BaseURL API 基础地址。
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// APIKey Google AI API 密钥。
	APIKey string `json:"-" mapstructure:"api_key"`

	// ChatModel 用于对话的模型。
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`

	// VisionModel 用于图片识别的模型，为空时使用 ChatModel。
	VisionModel string `json:"vision_model" mapstructure:"vision_model"`

	// Temperature 默认采样温度。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// MaxTokens 默认最大输出 token 数。
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`

	// Timeout 单次请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
		ChatModel:   "gemini-2.0-flash-exp",
		Temperature: 0.7,
		MaxTokens:   800,
		Timeout:     30 * time.Second,
	}
}

// Provider Gemini 供应商实现。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProvider 从配置 map 创建 Gemini 供应商。
func NewProvider(configMap map[string]any) (*Provider, error) {
	cfg := DefaultConfig()

	if v, ok := configMap["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := configMap["api_key"].(string); ok && v != "" {
		cfg.APIKey = v
	}
	if v, ok := configMap["chat_model"].(string); ok && v != "" {
		cfg.ChatModel = v
	}
	if v, ok := configMap["vision_model"].(string); ok && v != "" {
		cfg.VisionModel = v
	}
	if v, ok := configMap["temperature"].(float64); ok {
		cfg.Temperature = v
	}
	if v, ok := configMap["max_tokens"].(int); ok && v > 0 {
		cfg.MaxTokens = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api_key 是必需的")
	}

	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建 Gemini 供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout
	httpCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	httpCfg.Headers["Content-Type"] = "application/json"

	return &Provider{
		config: cfg,
		client: httpclient.NewClient(httpCfg),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// generateRequest generateContent API 请求体。
type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// generateResponse generateContent API 响应体。
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Chat 进行多轮对话。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (string, error) {
	req := generateRequest{}
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			req.SystemInstruction = &content{Parts: []part{{Text: msg.Content}}}
		case llm.RoleUser:
			req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		case llm.RoleAssistant:
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		}
	}

	temperature, maxTokens := llm.ApplyOptions(p.config.Temperature, p.config.MaxTokens, opts...)
	req.GenerationConfig = &generationConfig{
		Temperature:     temperature,
		MaxOutputTokens: maxTokens,
	}

	return p.generate(ctx, p.config.ChatModel, &req)
}

// Generate 根据提示生成文本。
func (p *Provider) Generate(ctx context.Context, prompt string, systemPrompt string, opts ...llm.Option) (string, error) {
	messages := make([]llm.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return p.Chat(ctx, messages, opts...)
}

// Vision 把图片以 base64 内联发送，返回模型识别出的文本。
func (p *Provider) Vision(ctx context.Context, instruction string, image []byte, mimeType string) (string, error) {
	model := p.config.VisionModel
	if model == "" {
		model = p.config.ChatModel
	}

	req := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: instruction},
				{InlineData: &inlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
		// 识别任务不需要随机性
		GenerationConfig: &generationConfig{Temperature: 0},
	}

	return p.generate(ctx, model, &req)
}

func (p *Provider) generate(ctx context.Context, model string, req *generateRequest) (string, error) {
	var out generateResponse
	resp, err := p.client.R(ctx).
		SetQueryParam("key", p.config.APIKey).
		SetBody(req).
		SetResult(&out).
		ForceContentType("application/json").
		Post(fmt.Sprintf("/models/%s:generateContent", model))
	if err != nil {
		return "", fmt.Errorf("gemini: 请求失败: %w", err)
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	if out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini: prompt blocked (%s): %w", out.PromptFeedback.BlockReason, llm.ErrEmptyResponse)
	}
	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("gemini: %w", llm.ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, pt := range out.Candidates[0].Content.Parts {
		sb.WriteString(pt.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("gemini: finish reason %q: %w", out.Candidates[0].FinishReason, llm.ErrEmptyResponse)
	}
	return text, nil
}
