package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/response"
)

// RecoveryConfig defines the config for Recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace logs the stack trace of the panic.
	// Default: true
	EnableStackTrace bool

	// OnPanic is called after a panic is recovered.
	OnPanic func(c *gin.Context, err interface{}, stack []byte)
}

// Recovery returns a middleware that recovers from panics and answers
// with the ErrInternal envelope.
func Recovery() gin.HandlerFunc {
	return RecoveryWithConfig(RecoveryConfig{EnableStackTrace: true})
}

// RecoveryWithConfig returns a Recovery middleware with custom config.
func RecoveryWithConfig(config RecoveryConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				var stack []byte
				if config.EnableStackTrace {
					stack = debug.Stack()
				}

				fields := []interface{}{
					"panic", fmt.Sprint(r),
					"path", c.Request.URL.Path,
					"request_id", GetRequestID(c.Request.Context()),
				}
				if stack != nil {
					fields = append(fields, "stack", string(stack))
				}
				logger.Errorw("panic recovered", fields...)

				if config.OnPanic != nil {
					config.OnPanic(c, r, stack)
				}
				response.Fail(c, errno.ErrInternal.WithCause(fmt.Errorf("panic: %v", r)))
			}
		}()
		c.Next()
	}
}
