// Package llm 提供统一的对话模型供应商抽象层。
// 对话（ChatProvider）与图片识别（VisionProvider）可以来自不同的供应商。
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrEmptyResponse 模型返回了空内容。
var ErrEmptyResponse = errors.New("llm: empty response")

// ChatProvider 定义 Chat 供应商接口。
type ChatProvider interface {
	// Chat 进行多轮对话。
	Chat(ctx context.Context, messages []Message, opts ...Option) (string, error)

	// Generate 根据提示生成文本（单轮）。
	Generate(ctx context.Context, prompt string, systemPrompt string, opts ...Option) (string, error)

	// Name 返回供应商名称。
	Name() string
}

// VisionProvider 能够读取图片的供应商。
type VisionProvider interface {
	// Vision 按 instruction 处理一张图片，返回模型输出的文本。
	Vision(ctx context.Context, instruction string, image []byte, mimeType string) (string, error)

	// Name 返回供应商名称。
	Name() string
}

// Message 表示对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role 定义消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// GenerateOptions 单次调用的生成参数，零值表示使用供应商配置。
type GenerateOptions struct {
	Temperature *float64
	MaxTokens   int
}

// Option 修改 GenerateOptions。
type Option func(*GenerateOptions)

// WithTemperature 设置采样温度。
func WithTemperature(t float64) Option {
	return func(o *GenerateOptions) {
		o.Temperature = &t
	}
}

// WithMaxTokens 设置最大输出 token 数。
func WithMaxTokens(n int) Option {
	return func(o *GenerateOptions) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}

// ApplyOptions 以 temperature/maxTokens 为默认值合并 opts。
func ApplyOptions(temperature float64, maxTokens int, opts ...Option) (float64, int) {
	o := GenerateOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Temperature != nil {
		temperature = *o.Temperature
	}
	if o.MaxTokens > 0 {
		maxTokens = o.MaxTokens
	}
	return temperature, maxTokens
}

// ChatProviderFactory Chat 供应商工厂函数类型。
type ChatProviderFactory func(config map[string]any) (ChatProvider, error)

// VisionProviderFactory Vision 供应商工厂函数类型。
type VisionProviderFactory func(config map[string]any) (VisionProvider, error)

var registry = &providerRegistry{
	chatProviders:   make(map[string]ChatProviderFactory),
	visionProviders: make(map[string]VisionProviderFactory),
}

type providerRegistry struct {
	mu              sync.RWMutex
	chatProviders   map[string]ChatProviderFactory
	visionProviders map[string]VisionProviderFactory
}

// RegisterChatProvider 注册 Chat 供应商工厂。
func RegisterChatProvider(name string, factory ChatProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.chatProviders[name] = factory
}

// RegisterVisionProvider 注册 Vision 供应商工厂。
func RegisterVisionProvider(name string, factory VisionProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.visionProviders[name] = factory
}

// NewChatProvider 根据名称创建 Chat 供应商实例。
func NewChatProvider(name string, config map[string]any) (ChatProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.chatProviders[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown chat provider: %s", name)
	}
	return factory(config)
}

// NewVisionProvider 根据名称创建 Vision 供应商实例。
func NewVisionProvider(name string, config map[string]any) (VisionProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.visionProviders[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown vision provider: %s", name)
	}
	return factory(config)
}

// ListProviders 列出所有已注册的供应商名称（去重、排序）。
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	seen := make(map[string]struct{})
	for name := range registry.chatProviders {
		seen[name] = struct{}{}
	}
	for name := range registry.visionProviders {
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
