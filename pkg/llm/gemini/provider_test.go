package gemini

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/company-chat/pkg/llm"
	"github.com/kart-io/company-chat/pkg/utils/httpclient"
	"github.com/kart-io/company-chat/pkg/utils/json"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "test-key"
	cfg.Timeout = 2 * time.Second
	return NewProviderWithConfig(cfg)
}

func decodeRequest(t *testing.T, r *http.Request) generateRequest {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var req generateRequest
	require.NoError(t, json.Unmarshal(body, &req))
	return req
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(map[string]any{})
	assert.Error(t, err, "missing api_key")

	p, err := NewProvider(map[string]any{
		"api_key":     "k",
		"chat_model":  "gemini-1.5-pro",
		"temperature": 0.2,
		"max_tokens":  100,
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", p.config.ChatModel)
	assert.Equal(t, 0.2, p.config.Temperature)
	assert.Equal(t, 100, p.config.MaxTokens)
}

func TestProvider_Chat(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash-exp:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		req := decodeRequest(t, r)
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "be brief", req.SystemInstruction.Parts[0].Text)
		require.Len(t, req.Contents, 3)
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.Equal(t, "model", req.Contents[1].Role)
		assert.Equal(t, 0.7, req.GenerationConfig.Temperature)
		assert.Equal(t, 800, req.GenerationConfig.MaxOutputTokens)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Tesla makes "},{"text":"cars."}]},"finishReason":"STOP"}]}`))
	})

	out, err := p.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleUser, Content: "what does Tesla make?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tesla makes cars.", out)
}

func TestProvider_GenerateOptions(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Equal(t, 0.0, req.GenerationConfig.Temperature)
		assert.Equal(t, 40, req.GenerationConfig.MaxOutputTokens)
		assert.Nil(t, req.SystemInstruction)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Tesla Inc"}]}}]}`))
	})

	out, err := p.Generate(context.Background(), "rewrite", "", llm.WithTemperature(0), llm.WithMaxTokens(40))
	require.NoError(t, err)
	assert.Equal(t, "Tesla Inc", out)
}

func TestProvider_Vision(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G'}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		inline := req.Contents[0].Parts[1].InlineData
		require.NotNil(t, inline)
		assert.Equal(t, "image/png", inline.MimeType)
		assert.Equal(t, base64.StdEncoding.EncodeToString(img), inline.Data)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ACME Corp\nBerlin"}]}}]}`))
	})

	out, err := p.Vision(context.Background(), "extract text", img, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "ACME Corp\nBerlin", out)
}

func TestProvider_Errors(t *testing.T) {
	t.Run("status error", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
		})
		_, err := p.Generate(context.Background(), "q", "")
		var se *httpclient.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	})

	t.Run("no candidates", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		})
		_, err := p.Generate(context.Background(), "q", "")
		assert.ErrorIs(t, err, llm.ErrEmptyResponse)
	})

	t.Run("blocked", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
		})
		_, err := p.Generate(context.Background(), "q", "")
		assert.ErrorIs(t, err, llm.ErrEmptyResponse)
		assert.Contains(t, err.Error(), "SAFETY")
	})
}
