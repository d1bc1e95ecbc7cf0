package response

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	errno "github.com/kart-io/company-chat/pkg/errors"
)

// HeaderXRequestID is the request id header.
const HeaderXRequestID = "X-Request-ID"

// Writer writes envelopes to a gin context.
type Writer struct {
	ctx *gin.Context
}

// NewWriter creates a new response writer for the given context.
func NewWriter(ctx *gin.Context) *Writer {
	return &Writer{ctx: ctx}
}

func (w *Writer) prepare(r *Response) *Response {
	r.RequestID = w.ctx.Writer.Header().Get(HeaderXRequestID)
	return r
}

// lang 从 Accept-Language 中取首选语言。
func (w *Writer) lang() string {
	al := w.ctx.GetHeader("Accept-Language")
	if i := strings.IndexAny(al, ",;"); i >= 0 {
		al = al[:i]
	}
	return strings.TrimSpace(al)
}

// OK sends a successful response with data.
func (w *Writer) OK(data interface{}) {
	resp := w.prepare(Success(data))
	w.ctx.JSON(resp.HTTPStatus(), resp)
}

// Created sends a successful response with 201 status.
func (w *Writer) Created(data interface{}) {
	w.ctx.JSON(http.StatusCreated, w.prepare(Success(data)))
}

// Fail sends an error response. Non-errno errors become ErrInternal.
func (w *Writer) Fail(err error) {
	resp := w.prepare(Err(errno.FromError(err), w.lang()))
	w.ctx.AbortWithStatusJSON(resp.HTTPStatus(), resp)
}

// OK sends a successful response.
func OK(c *gin.Context, data interface{}) {
	NewWriter(c).OK(data)
}

// Fail sends an error response.
func Fail(c *gin.Context, err error) {
	NewWriter(c).Fail(err)
}
