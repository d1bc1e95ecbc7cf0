package llm

import (
	"context"

	"github.com/kart-io/company-chat/pkg/resilience"
)

// ResilientChatProvider 给 ChatProvider 加上熔断（以及可选的重试）。
type ResilientChatProvider struct {
	provider ChatProvider
	retry    *resilience.RetryConfig
	cb       *resilience.CircuitBreaker
}

// NewResilientChatProvider 创建带熔断的 Chat Provider。retryConfig 为 nil 时不重试。
func NewResilientChatProvider(
	provider ChatProvider,
	retryConfig *resilience.RetryConfig,
	cbConfig *resilience.CircuitBreakerConfig,
) *ResilientChatProvider {
	if retryConfig == nil {
		retryConfig = resilience.NoRetry()
	}
	if cbConfig == nil {
		cbConfig = resilience.DefaultCircuitBreakerConfig()
		cbConfig.Name = provider.Name()
	}

	return &ResilientChatProvider{
		provider: provider,
		retry:    retryConfig,
		cb:       resilience.NewCircuitBreaker(cbConfig),
	}
}

// WithRetry 返回使用另一种重试策略的副本，与原实例共享供应商和熔断器。
func (r *ResilientChatProvider) WithRetry(retryConfig *resilience.RetryConfig) *ResilientChatProvider {
	if retryConfig == nil {
		retryConfig = resilience.NoRetry()
	}
	return &ResilientChatProvider{provider: r.provider, retry: retryConfig, cb: r.cb}
}

// Chat 进行多轮对话。
func (r *ResilientChatProvider) Chat(ctx context.Context, messages []Message, opts ...Option) (string, error) {
	var result string
	err := resilience.RetryWithCircuitBreaker(ctx, r.retry, r.cb, func(ctx context.Context) error {
		var err error
		result, err = r.provider.Chat(ctx, messages, opts...)
		return err
	})
	return result, err
}

// Generate 根据提示生成文本。
func (r *ResilientChatProvider) Generate(ctx context.Context, prompt string, systemPrompt string, opts ...Option) (string, error) {
	var result string
	err := resilience.RetryWithCircuitBreaker(ctx, r.retry, r.cb, func(ctx context.Context) error {
		var err error
		result, err = r.provider.Generate(ctx, prompt, systemPrompt, opts...)
		return err
	})
	return result, err
}

// Name 返回被包装供应商的名称。
func (r *ResilientChatProvider) Name() string {
	return r.provider.Name()
}

// CircuitBreaker 获取熔断器实例（用于监控）。
func (r *ResilientChatProvider) CircuitBreaker() *resilience.CircuitBreaker {
	return r.cb
}
