package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/company-chat/internal/model"
)

func TestRewriter_Rewrite(t *testing.T) {
	history := []model.Turn{
		{Role: model.RoleUser, Text: "what does Tesla do?"},
		{Role: model.RoleAssistant, Text: "Tesla, Inc. designs electric vehicles."},
	}

	tests := []struct {
		name     string
		text     string
		history  []model.Turn
		reply    string
		err      error
		want     string
		fallback string
	}{
		{
			name:  "entity preserved",
			text:  "what does tesla do",
			reply: "Tesla Inc business model overview",
			want:  "Tesla Inc business model overview",
		},
		{
			name:  "cleans quotes and prefix",
			text:  "Who is the CEO of Apple?",
			reply: "Search query: \"Apple CEO leadership\".\nThis query focuses on...",
			want:  "Apple CEO leadership",
		},
		{
			name:     "model error",
			text:     "what does tesla do",
			err:      errors.New("503"),
			want:     "what does tesla do",
			fallback: FallbackModelError,
		},
		{
			name:     "too short",
			text:     "what does tesla do",
			reply:    "T",
			want:     "what does tesla do",
			fallback: FallbackTooShort,
		},
		{
			name:     "entity dropped",
			text:     "Tell me about Nvidia",
			reply:    "GPU maker overview",
			want:     "Tell me about Nvidia",
			fallback: FallbackEntityDropped,
		},
		{
			name:     "entity injected",
			text:     "what does tesla do",
			reply:    "tesla vs Rivian comparison",
			want:     "what does tesla do",
			fallback: FallbackEntityInjected,
		},
		{
			name:    "content word dropped",
			text:    "who founded it?",
			history: history,
			reply:   "Tesla founders history",
			want:    "who founded it?",
			// "founded" 是问题中唯一的实义词，改写结果没有保留它
			fallback: FallbackEntityDropped,
		},
		{
			name:    "pronoun only question uses history entity",
			text:    "tell me more about it",
			history: history,
			reply:   "Tesla Inc latest news",
			want:    "Tesla Inc latest news",
		},
		{
			name:  "title case with generic terms",
			text:  "what does stripe do",
			reply: "Stripe Inc Business Model Overview",
			want:  "Stripe Inc Business Model Overview",
		},
		{
			name:  "plural and number variants",
			text:  "tesla model 3 recall",
			reply: "Tesla Model 3 recalls 2024",
			want:  "Tesla Model 3 recalls 2024",
		},
		{
			name:     "title case injection",
			text:     "what does tesla do",
			reply:    "Tesla Ford Overview",
			want:     "what does tesla do",
			fallback: FallbackEntityInjected,
		},
		{
			name:     "title case comparison injection",
			text:     "what does tesla do",
			reply:    "Tesla Inc Vs Ford Motor Company",
			want:     "what does tesla do",
			fallback: FallbackEntityInjected,
		},
		{
			name:     "lowercase injection",
			text:     "what does tesla do",
			reply:    "tesla vs ford comparison",
			want:     "what does tesla do",
			fallback: FallbackEntityInjected,
		},
		{
			name:    "history words are not injected",
			text:    "tell me more about it",
			history: []model.Turn{
				{Role: model.RoleUser, Text: "who owns Rivian?"},
				{Role: model.RoleAssistant, Text: "Amazon holds a stake in Rivian Automotive."},
			},
			reply: "Rivian Automotive Amazon stake",
			want:  "Rivian Automotive Amazon stake",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{reply: tt.reply, err: tt.err}
			var got []string
			r := NewRewriter(chat, nil, func(reason string) { got = append(got, reason) })

			assert.Equal(t, tt.want, r.Rewrite(context.Background(), tt.text, tt.history))
			if tt.fallback == "" {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, []string{tt.fallback}, got)
			}
		})
	}
}

func TestRewriter_PromptIncludesHistory(t *testing.T) {
	chat := &fakeChat{reply: "Tesla Inc overview"}
	r := NewRewriter(chat, &RewriterConfig{HistoryTurns: 1}, nil)

	history := []model.Turn{
		{Role: model.RoleUser, Text: "first question about Ford"},
		{Role: model.RoleAssistant, Text: "Ford makes cars."},
	}
	r.Rewrite(context.Background(), "and Tesla?", history)

	require.Len(t, chat.prompts, 1)
	assert.Contains(t, chat.prompts[0], "Assistant: Ford makes cars.")
	assert.NotContains(t, chat.prompts[0], "first question about Ford")
	assert.Contains(t, chat.prompts[0], "User Question: and Tesla?")
	assert.Contains(t, chat.prompts[0], "maximum 10 words")
}

func TestRewriter_NilProvider(t *testing.T) {
	r := NewRewriter(nil, nil, nil)
	assert.Equal(t, "what does tesla do", r.Rewrite(context.Background(), "  what does tesla do ", nil))
}
