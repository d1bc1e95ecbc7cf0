package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_JSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"ok"}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Headers["X-API-KEY"] = "secret"
	c := NewClient(cfg)

	var out struct {
		Answer string `json:"answer"`
	}
	resp, err := c.R(context.Background()).SetBody(map[string]string{"q": "x"}).SetResult(&out).Post("/search")
	require.NoError(t, err)
	require.NoError(t, CheckResponse(resp))
	assert.Equal(t, "ok", out.Answer)
}

func TestClient_NoAutomaticRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := NewClient(&Config{Timeout: time.Second, MaxIdleConnsPerHost: 1})
	resp, err := c.R(context.Background()).Get(srv.URL)
	require.NoError(t, err)

	err = CheckResponse(resp)
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.True(t, se.Temporary())
	assert.Equal(t, "upstream down", se.Body)
	assert.Equal(t, 1, calls)
}

func TestStatusError_Temporary(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, (&StatusError{StatusCode: tt.code}).Temporary(), "status %d", tt.code)
	}
}
