// Package handler provides HTTP handlers for the chat service.
package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/company-chat/internal/chat/biz"
	"github.com/kart-io/company-chat/internal/model"
	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/ratelimit"
	"github.com/kart-io/company-chat/pkg/response"
)

// ChatService 是 handler 依赖的编排能力，由 *biz.Orchestrator 实现。
type ChatService interface {
	StartSession(ctx context.Context) (*model.Session, string, error)
	Session(ctx context.Context, sessionID string) (*model.Session, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	HandleTurn(ctx context.Context, sessionID string, req biz.TurnRequest) (*biz.TurnResponse, error)
	RateWindow(ctx context.Context) (ratelimit.Window, error)
}

var _ ChatService = (*biz.Orchestrator)(nil)

// ChatHandler handles chat HTTP requests.
type ChatHandler struct {
	service        ChatService
	maxUploadBytes int64
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(service ChatService, maxUploadBytes int64) *ChatHandler {
	return &ChatHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

// CreateSessionResponse 新会话。
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	Welcome   string    `json:"welcome"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary 会话列表项。
type SessionSummary struct {
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Messages   int       `json:"messages"`
	Ended      bool      `json:"ended"`
}

// SessionDetail 会话详情：历史与最近一次上传的文档。
type SessionDetail struct {
	SessionSummary
	Turns    []model.Turn       `json:"turns"`
	Document *model.DocumentRef `json:"document,omitempty"`
}

// TurnRequest JSON 形式的一轮输入。
type TurnRequest struct {
	Text string `json:"text"`
}

// TurnResponse 一轮输出。
type TurnResponse struct {
	SessionID         string         `json:"session_id"`
	TurnID            string         `json:"turn_id"`
	Answer            string         `json:"answer"`
	Category          model.Category `json:"category"`
	RateLimited       bool           `json:"rate_limited"`
	RetryAfterSeconds int            `json:"retry_after_seconds,omitempty"`
	State             biz.State      `json:"state"`
	Stage             biz.Stage      `json:"stage,omitempty"`
	ErrorCode         int            `json:"error_code,omitempty"`
	ErrorReason       string         `json:"error_reason,omitempty"`
	SearchQuery       string         `json:"search_query,omitempty"`
	Sources           []biz.Source   `json:"sources"`
	Document          string         `json:"document,omitempty"`
	SessionEnded      bool           `json:"session_ended,omitempty"`
}

// RateLimitResponse 限流窗口视图。
type RateLimitResponse struct {
	Limit             int       `json:"limit"`
	WindowSeconds     int       `json:"window_seconds"`
	Remaining         int       `json:"remaining"`
	ResetAt           time.Time `json:"reset_at"`
	RetryAfterSeconds int       `json:"retry_after_seconds"`
}

// CreateSession POST /v1/chat/sessions
func (h *ChatHandler) CreateSession(c *gin.Context) {
	sess, welcome, err := h.service.StartSession(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.NewWriter(c).Created(CreateSessionResponse{
		SessionID: sess.ID,
		Welcome:   welcome,
		CreatedAt: sess.CreatedAt,
	})
}

// ListSessions GET /v1/chat/sessions
func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.service.ListSessions(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summarize(s))
	}
	response.OK(c, out)
}

// GetSession GET /v1/chat/sessions/:id
func (h *ChatHandler) GetSession(c *gin.Context) {
	sess, err := h.service.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, SessionDetail{
		SessionSummary: summarize(sess),
		Turns:          sess.Turns(),
		Document:       sess.Document(),
	})
}

// DeleteSession DELETE /v1/chat/sessions/:id
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if err := h.service.EndSession(c.Request.Context(), c.Param("id")); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, nil)
}

// PostTurn POST /v1/chat/sessions/:id/turns
//
// 接受 application/json {"text": "..."} 或 multipart/form-data（text、file）。
func (h *ChatHandler) PostTurn(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	req, err := h.bindTurn(c)
	if err != nil {
		response.Fail(c, err)
		return
	}

	resp, err := h.service.HandleTurn(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, toTurnResponse(resp))
}

// RateLimit GET /v1/chat/ratelimit
func (h *ChatHandler) RateLimit(c *gin.Context) {
	w, err := h.service.RateWindow(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	retry := time.Until(w.ResetAt)
	if w.Remaining > 0 || retry < 0 {
		retry = 0
	}
	response.OK(c, RateLimitResponse{
		Limit:             w.Limit,
		WindowSeconds:     int(w.Size / time.Second),
		Remaining:         w.Remaining,
		ResetAt:           w.ResetAt,
		RetryAfterSeconds: ceilSeconds(retry),
	})
}

func (h *ChatHandler) bindTurn(c *gin.Context) (biz.TurnRequest, error) {
	ct := c.ContentType()
	if strings.HasPrefix(ct, "multipart/") {
		return h.bindMultipart(c)
	}

	var body TurnRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		if isTooLarge(err) {
			return biz.TurnRequest{}, errno.ErrRequestTooLarge
		}
		return biz.TurnRequest{}, errno.ErrInvalidTurn.WithMessage("request body must be JSON {\"text\": \"...\"}").WithCause(err)
	}
	return biz.TurnRequest{Text: body.Text}, nil
}

func (h *ChatHandler) bindMultipart(c *gin.Context) (biz.TurnRequest, error) {
	req := biz.TurnRequest{Text: c.PostForm("text")}

	fh, err := c.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return req, nil
	case err != nil:
		if isTooLarge(err) {
			return req, errno.ErrRequestTooLarge
		}
		return req, errno.ErrInvalidTurn.WithMessage("malformed multipart body").WithCause(err)
	}

	data, err := readPart(fh)
	if err != nil {
		return req, errno.ErrInvalidTurn.WithMessage("failed to read uploaded file").WithCause(err)
	}
	req.File = &biz.Attachment{
		Filename: fh.Filename,
		MIMEType: fh.Header.Get("Content-Type"),
		Data:     data,
	}
	logger.Debugw("document uploaded", "filename", fh.Filename, "bytes", len(data))
	return req, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || errors.Is(err, multipart.ErrMessageTooLarge)
}

func summarize(s *model.Session) SessionSummary {
	return SessionSummary{
		SessionID:  s.ID,
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
		Messages:   s.Len(),
		Ended:      s.Ended(),
	}
}

func toTurnResponse(r *biz.TurnResponse) TurnResponse {
	sources := r.Sources
	if sources == nil {
		sources = []biz.Source{}
	}
	return TurnResponse{
		SessionID:         r.SessionID,
		TurnID:            r.TurnID,
		Answer:            r.Answer,
		Category:          r.Category,
		RateLimited:       r.RateLimited,
		RetryAfterSeconds: ceilSeconds(r.RetryAfter),
		State:             r.State,
		Stage:             r.Stage,
		ErrorCode:         r.ErrorCode,
		ErrorReason:       r.ErrorReason,
		SearchQuery:       r.SearchQuery,
		Sources:           sources,
		Document:          r.Document,
		SessionEnded:      r.SessionEnded,
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
