package search

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/resilience"
	"github.com/kart-io/company-chat/pkg/utils/json"
)

func fastRetry() GatewayOption {
	return WithRetry(&resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond})
}

func testConfig(provider, baseURL string) *Config {
	cfg := DefaultConfig()
	cfg.Provider = provider
	cfg.APIKey = "test-key"
	cfg.BaseURL = baseURL
	cfg.Timeout = 2 * time.Second
	return cfg
}

const tavilyBody = `{
  "answer": "Stripe is a payments infrastructure company.",
  "results": [
    {"title": "Stripe | Payment Processing", "url": "https://stripe.com", "content": "Online payments.", "score": 0.98},
    {"title": "Stripe - Wikipedia", "url": "https://en.wikipedia.org/wiki/Stripe,_Inc.", "content": "Founded 2010.", "score": 0.91},
    {"title": "Stripe news", "url": "https://news.example.com/stripe", "content": "Funding.", "score": 0.5}
  ]
}`

func TestTavily_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		raw, _ := io.ReadAll(r.Body)
		var req tavilyRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		assert.Equal(t, "Stripe company overview", req.Query)
		assert.Equal(t, "advanced", req.SearchDepth)
		assert.Equal(t, 2, req.MaxResults)
		assert.True(t, req.IncludeAnswer)

		_, _ = w.Write([]byte(tavilyBody))
	}))
	defer srv.Close()

	g, err := New(testConfig(ProviderTavily, srv.URL))
	require.NoError(t, err)

	results, err := g.Search(context.Background(), "Stripe company overview", 2)
	require.NoError(t, err)
	require.Len(t, results, 3, "direct answer plus two capped results")

	assert.True(t, results[0].IsDirectAnswer())
	assert.Equal(t, "Stripe is a payments infrastructure company.", results[0].Snippet)
	assert.Equal(t, 1, results[1].Rank)
	assert.Equal(t, "https://stripe.com", results[1].SourceURL)
	assert.Equal(t, 2, results[2].Rank)
}

func TestSerper_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "Tesla", body["q"])
		assert.EqualValues(t, 5, body["num"])

		_, _ = w.Write([]byte(`{"organic":[{"title":"Tesla","link":"https://tesla.com","snippet":"EVs","position":1}]}`))
	}))
	defer srv.Close()

	g, err := New(testConfig(ProviderSerper, srv.URL))
	require.NoError(t, err)

	results, err := g.Search(context.Background(), "Tesla", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Result{Title: "Tesla", Snippet: "EVs", SourceURL: "https://tesla.com", Rank: 1}, results[0])
}

func TestBrave_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/web/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "Acme GmbH", r.URL.Query().Get("q"))
		assert.Equal(t, "10", r.URL.Query().Get("count"))

		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"Acme","url":"https://acme.de","description":"Widgets"}]}}`))
	}))
	defer srv.Close()

	g, err := New(testConfig(ProviderBrave, srv.URL))
	require.NoError(t, err)

	// 超过上限会被截断到 10
	results, err := g.Search(context.Background(), "Acme GmbH", 50)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Widgets", results[0].Snippet)
}

func TestGateway_RetriesOnceOnTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(tavilyBody))
	}))
	defer srv.Close()

	g, err := New(testConfig(ProviderTavily, srv.URL), fastRetry())
	require.NoError(t, err)

	results, err := g.Search(context.Background(), "Stripe", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGateway_ErrorReasons(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		reason    string
		wantCalls int32
	}{
		{"persistent 5xx retried once", http.StatusServiceUnavailable, "down", ReasonUpstream, 2},
		{"rate limited not retried", http.StatusTooManyRequests, "slow down", ReasonRateLimited, 1},
		{"auth", http.StatusUnauthorized, "bad key", ReasonAuth, 1},
		{"bad json", http.StatusOK, "{not json", ReasonDecode, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var outcomes []string
			g, err := New(testConfig(ProviderTavily, srv.URL), fastRetry(),
				WithObserver(func(provider, outcome string, _ time.Duration) {
					assert.Equal(t, ProviderTavily, provider)
					outcomes = append(outcomes, outcome)
				}))
			require.NoError(t, err)

			_, err = g.Search(context.Background(), "Stripe", 5)
			require.Error(t, err)
			assert.True(t, errno.Is(err, errno.ErrSearch))
			assert.Equal(t, tt.reason, errno.ReasonOf(err))
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, []string{tt.reason}, outcomes)
		})
	}
}

func TestGateway_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	g, err := New(testConfig(ProviderSerper, url), fastRetry())
	require.NoError(t, err)

	_, err = g.Search(context.Background(), "Tesla", 3)
	require.Error(t, err)
	assert.Equal(t, ReasonNetwork, errno.ReasonOf(err))
}

func TestGateway_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(ProviderTavily, srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	g, err := New(cfg, fastRetry())
	require.NoError(t, err)

	start := time.Now()
	_, err = g.Search(context.Background(), "Stripe", 3)
	require.Error(t, err)
	assert.True(t, errno.Is(err, errno.ErrSearch))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestNew_Configuration(t *testing.T) {
	_, err := New(&Config{Provider: ProviderTavily})
	assert.True(t, errno.Is(err, errno.ErrConfiguration))

	_, err = New(&Config{Provider: "bing", APIKey: "k"})
	assert.True(t, errno.Is(err, errno.ErrConfiguration))
}

func TestGateway_EmptyQuery(t *testing.T) {
	g := NewGateway(nil, nil)
	_, err := g.Search(context.Background(), "   ", 3)
	assert.True(t, errno.Is(err, errno.ErrInvalidTurn))
}

func TestNormalize(t *testing.T) {
	in := []Result{
		{Title: "a", Rank: 3},
		{Title: "answer", Rank: 0},
		{Title: "b", Rank: 7},
		{Title: "c", Rank: 9},
	}
	out := normalize(in, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Title)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, "b", out[1].Title)
	assert.Equal(t, 2, out[1].Rank)
}
