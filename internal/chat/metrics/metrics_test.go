package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/company-chat/internal/chat/biz"
	"github.com/kart-io/company-chat/internal/model"
)

func TestChatMetrics_Recorder(t *testing.T) {
	m := New()

	m.ObserveTurn(model.CategoryCompanyQuery, biz.StateAnswered, 2*time.Second)
	m.ObserveTurn(model.CategoryCompanyQuery, biz.StateAnswered, time.Second)
	m.ObserveTurn(model.CategoryCompanyQuery, biz.StateDenied, time.Millisecond)
	m.ObserveAdmission("admitted")
	m.ObserveAdmission("denied")
	m.ObserveStage(biz.StageSearching, "ok", 300*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Turns.WithLabelValues("company_query", "answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("company_query", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Admissions.WithLabelValues("denied")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestChatMetrics_Gateways(t *testing.T) {
	m := New()

	m.ObserveSearch("tavily", "ok", 100*time.Millisecond)
	m.ObserveSearch("tavily", "timeout", 15*time.Second)
	m.ObserveExtraction("text_layer", "ok", time.Millisecond)
	m.ObserveExtraction("", "unsupported", time.Millisecond)
	m.ObserveRewriteFallback("model_error")
	m.SetActiveSessions(4)
	m.SetActiveSessions(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchCalls.WithLabelValues("tavily", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Extractions.WithLabelValues("none", "unsupported")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RewriteFallbacks.WithLabelValues("model_error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveSessions))
}

func TestChatMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveAdmission("admitted")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `company_chat_admissions_total{result="admitted"} 1`)
	assert.Contains(t, string(body), "company_chat_active_sessions 0")
}

func TestDefault_Singleton(t *testing.T) {
	if Default() != Default() {
		t.Errorf("Default() 应返回同一个实例")
	}
}
