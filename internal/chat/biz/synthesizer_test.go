package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/llm"
	"github.com/kart-io/company-chat/pkg/resilience"
)

type slowChat struct{ fakeChat }

func (s *slowChat) Generate(ctx context.Context, _, _ string, _ ...llm.Option) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSynthesizer_Synthesize(t *testing.T) {
	chat := &fakeChat{reply: "  Tesla builds EVs.  "}
	s := NewSynthesizer(chat, nil)

	answer, err := s.Synthesize(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Tesla builds EVs.", answer)
	assert.Equal(t, []string{"prompt"}, chat.prompts)
}

func TestSynthesizer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		chat   llm.ChatProvider
		reason string
	}{
		{"upstream", &fakeChat{err: errors.New("500 internal")}, ModelReasonUpstream},
		{"circuit open", &fakeChat{err: resilience.ErrCircuitBreakerOpen}, ModelReasonCircuitOpen},
		{"empty from provider", &fakeChat{err: llm.ErrEmptyResponse}, ModelReasonEmpty},
		{"blank answer", &fakeChat{reply: "   "}, ModelReasonEmpty},
		{"timeout", &slowChat{}, ModelReasonTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSynthesizer(tt.chat, &SynthesizerConfig{Temperature: 0.7, MaxTokens: 800, Timeout: 20 * time.Millisecond})
			_, err := s.Synthesize(context.Background(), "prompt")
			require.Error(t, err)
			assert.True(t, errno.Is(err, errno.ErrModel))
			assert.Equal(t, tt.reason, errno.ReasonOf(err))
		})
	}
}
