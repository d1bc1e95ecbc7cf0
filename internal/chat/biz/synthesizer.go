package biz

import (
	"context"
	"errors"
	"strings"
	"time"

	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/llm"
	"github.com/kart-io/company-chat/pkg/resilience"
)

// ErrModel 的失败原因。
const (
	ModelReasonTimeout     = "timeout"
	ModelReasonCircuitOpen = "circuit_open"
	ModelReasonEmpty       = "empty"
	ModelReasonUpstream    = "upstream"
)

// Synthesizer 把组装好的提示词变成最终回答。
type Synthesizer interface {
	Synthesize(ctx context.Context, prompt string) (string, error)
}

// SynthesizerConfig 生成参数。
type SynthesizerConfig struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultSynthesizerConfig 返回默认配置。
func DefaultSynthesizerConfig() *SynthesizerConfig {
	return &SynthesizerConfig{
		Temperature: 0.7,
		MaxTokens:   800,
		Timeout:     30 * time.Second,
	}
}

// ModelSynthesizer 基于 llm.ChatProvider 的 Synthesizer。不做自动重试。
type ModelSynthesizer struct {
	provider llm.ChatProvider
	config   *SynthesizerConfig
}

// NewSynthesizer 创建 ModelSynthesizer。
func NewSynthesizer(provider llm.ChatProvider, config *SynthesizerConfig) *ModelSynthesizer {
	if config == nil {
		config = DefaultSynthesizerConfig()
	}
	return &ModelSynthesizer{provider: provider, config: config}
}

// Synthesize implements Synthesizer. 所有失败都转换为 errno.ErrModel。
func (s *ModelSynthesizer) Synthesize(ctx context.Context, prompt string) (string, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	answer, err := s.provider.Generate(ctx, prompt, "",
		llm.WithTemperature(s.config.Temperature),
		llm.WithMaxTokens(s.config.MaxTokens),
	)
	if err != nil {
		return "", errno.ErrModel.WithReason(modelReason(ctx, err)).WithCause(err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", errno.ErrModel.WithReason(ModelReasonEmpty).WithCause(llm.ErrEmptyResponse)
	}
	return answer, nil
}

func modelReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ModelReasonTimeout
	case errors.Is(err, resilience.ErrCircuitBreakerOpen):
		return ModelReasonCircuitOpen
	case errors.Is(err, llm.ErrEmptyResponse):
		return ModelReasonEmpty
	default:
		return ModelReasonUpstream
	}
}
