package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/company-chat/internal/chat/biz"
	"github.com/kart-io/company-chat/internal/chat/handler"
	"github.com/kart-io/company-chat/internal/chat/metrics"
	"github.com/kart-io/company-chat/internal/chat/router"
	"github.com/kart-io/company-chat/internal/chat/store"
	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/ocr"
	"github.com/kart-io/company-chat/pkg/ratelimit"
	"github.com/kart-io/company-chat/pkg/search"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, string, int) ([]search.Result, error) {
	return []search.Result{
		{Rank: 1, Title: "Acme Corp", Snippet: "Acme builds anvils.", SourceURL: "https://acme.example/about"},
	}, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, _ []byte, mimeType, filename string) (*ocr.Document, error) {
	return &ocr.Document{
		RawText:        "Acme Corp. 12 Main St. Anvils and rockets.",
		SourceFilename: filename,
		MIMEType:       mimeType,
		PageCount:      1,
		Method:         ocr.MethodTextLayer,
		ExtractedAt:    time.Now(),
	}, nil
}

type stubSynth struct {
	mu    sync.Mutex
	calls int
}

func (s *stubSynth) Synthesize(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "Acme builds anvils [1].", nil
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

type testServer struct {
	engine *gin.Engine
	synth  *stubSynth
}

func newTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()

	sessions := store.NewMemoryStore(&store.MemoryConfig{MaxTurns: 50})
	t.Cleanup(sessions.Close)

	limiter, err := ratelimit.New(ratelimit.BackendMemory, ratelimit.DefaultConfig(), nil)
	require.NoError(t, err)

	synth := &stubSynth{}
	m := metrics.New()
	orch, err := biz.NewOrchestrator(biz.Dependencies{
		Sessions:    sessions,
		Limiter:     limiter,
		Searcher:    stubSearcher{},
		Extractor:   stubExtractor{},
		Synthesizer: synth,
		Recorder:    m,
	}, nil)
	require.NoError(t, err)

	engine := router.New(router.Config{
		Chat:    handler.NewChatHandler(orch, maxUpload),
		Metrics: m.Handler(),
	})
	return &testServer{engine: engine, synth: synth}
}

func (s *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (s *testServer) createSession(t *testing.T) string {
	t.Helper()
	w, env := s.do(t, httptest.NewRequest(http.MethodPost, "/v1/chat/sessions", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	var out handler.CreateSessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.NotEmpty(t, out.SessionID)
	assert.Equal(t, biz.WelcomeMessage, out.Welcome)
	return out.SessionID
}

func (s *testServer) postText(t *testing.T, sessionID, text string) (*httptest.ResponseRecorder, handler.TurnResponse) {
	t.Helper()
	body, _ := json.Marshal(handler.TurnRequest{Text: text})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/sessions/"+sessionID+"/turns", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w, env := s.do(t, req)
	var out handler.TurnResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(env.Data, &out))
	}
	return w, out
}

func TestChatHandler_GreetingBypassesLimiter(t *testing.T) {
	s := newTestServer(t, 1<<20)
	sid := s.createSession(t)

	for i := 0; i < 5; i++ {
		w, out := s.postText(t, sid, "hello")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "greeting", string(out.Category))
		assert.False(t, out.RateLimited)
		assert.NotEmpty(t, out.Answer)
	}
	assert.Zero(t, s.synth.calls)

	w, env := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/chat/ratelimit", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rl handler.RateLimitResponse
	require.NoError(t, json.Unmarshal(env.Data, &rl))
	assert.Equal(t, 3, rl.Limit)
	assert.Equal(t, 60, rl.WindowSeconds)
	assert.Equal(t, 3, rl.Remaining)
	assert.Zero(t, rl.RetryAfterSeconds)
}

func TestChatHandler_CompanyQueriesRateLimited(t *testing.T) {
	s := newTestServer(t, 1<<20)
	sid := s.createSession(t)

	for i := 0; i < 3; i++ {
		w, out := s.postText(t, sid, "what does acme do")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "company_query", string(out.Category))
		assert.Equal(t, biz.StateAnswered, out.State)
		assert.Equal(t, "Acme builds anvils [1].", out.Answer)
		require.Len(t, out.Sources, 1)
		assert.Equal(t, "https://acme.example/about", out.Sources[0].URL)
	}

	w, out := s.postText(t, sid, "what does acme do")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, out.RateLimited)
	assert.Equal(t, biz.StateRateLimited, out.State)
	assert.Greater(t, out.RetryAfterSeconds, 0)
	assert.LessOrEqual(t, out.RetryAfterSeconds, 60)
	assert.NotNil(t, out.Sources)
	assert.Equal(t, 3, s.synth.calls)

	_, env := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/chat/ratelimit", nil))
	var rl handler.RateLimitResponse
	require.NoError(t, json.Unmarshal(env.Data, &rl))
	assert.Zero(t, rl.Remaining)
	assert.Greater(t, rl.RetryAfterSeconds, 0)
}

func TestChatHandler_DocumentUpload(t *testing.T) {
	s := newTestServer(t, 1<<20)
	sid := s.createSession(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("text", "what company is this"))
	fw, err := mw.CreateFormFile("file", "card.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/sessions/"+sid+"/turns", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, env := s.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out handler.TurnResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "document", string(out.Category))
	assert.Equal(t, "card.pdf", out.Document)
	assert.Equal(t, biz.StateAnswered, out.State)

	w, env = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/chat/sessions/"+sid, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var detail handler.SessionDetail
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	require.Len(t, detail.Turns, 2)
	assert.Equal(t, "card.pdf", detail.Turns[0].Attachment)
	require.NotNil(t, detail.Document)
	assert.Equal(t, "card.pdf", detail.Document.Filename)
}

func TestChatHandler_SessionLifecycle(t *testing.T) {
	s := newTestServer(t, 1<<20)
	a := s.createSession(t)
	b := s.createSession(t)

	s.postText(t, a, "hi")

	w, env := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/chat/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []handler.SessionSummary
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	ids := []string{list[0].SessionID, list[1].SessionID}
	assert.ElementsMatch(t, []string{a, b}, ids)

	w, _ = s.do(t, httptest.NewRequest(http.MethodDelete, "/v1/chat/sessions/"+a, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/chat/sessions/"+a, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errno.ErrSessionNotFound.Code, env.Code)
	assert.NotEmpty(t, env.RequestID)
}

func TestChatHandler_Errors(t *testing.T) {
	s := newTestServer(t, 256)
	sid := s.createSession(t)

	tests := []struct {
		name     string
		session  string
		body     string
		wantHTTP int
		wantCode int
	}{
		{"unknown session", "missing", `{"text":"hi"}`, http.StatusNotFound, errno.ErrSessionNotFound.Code},
		{"malformed json", sid, `{"text":`, http.StatusBadRequest, errno.ErrInvalidTurn.Code},
		{"body too large", sid, `{"text":"` + strings.Repeat("a", 1024) + `"}`, http.StatusRequestEntityTooLarge, errno.ErrRequestTooLarge.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/chat/sessions/"+tt.session+"/turns", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w, env := s.do(t, req)
			assert.Equal(t, tt.wantHTTP, w.Code)
			assert.Equal(t, tt.wantCode, env.Code)
			assert.Empty(t, env.Data)
		})
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, 1<<20)
	sid := s.createSession(t)
	s.postText(t, sid, "hello")

	w, env := s.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)

	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "company_chat_turns_total")

	w, env = s.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errno.ErrNotFound.Code, env.Code)
}
