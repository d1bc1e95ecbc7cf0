// Package router provides chat service routing.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/company-chat/internal/chat/handler"
	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/middleware"
	"github.com/kart-io/company-chat/pkg/response"
)

// Config 路由依赖。
type Config struct {
	Chat *handler.ChatHandler
	// Metrics /metrics 的 handler，为 nil 时不注册。
	Metrics http.Handler
	// HTTPMetrics HTTP 层指标中间件，可选。
	HTTPMetrics *middleware.HTTPMetrics
}

// New 创建 gin 引擎并注册所有路由。
func New(cfg Config) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		httpMetrics(cfg.HTTPMetrics),
	)...)
	Register(engine, cfg)
	return engine
}

// Register registers the chat service routes.
func Register(engine *gin.Engine, cfg Config) {
	logger.Info("Registering chat routes...")

	engine.GET("/healthz", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	engine.NoRoute(func(c *gin.Context) {
		response.Fail(c, errno.ErrNotFound)
	})

	v1 := engine.Group("/v1")
	{
		chat := v1.Group("/chat")
		{
			// Session endpoints
			chat.POST("/sessions", cfg.Chat.CreateSession)
			chat.GET("/sessions", cfg.Chat.ListSessions)
			chat.GET("/sessions/:id", cfg.Chat.GetSession)
			chat.DELETE("/sessions/:id", cfg.Chat.DeleteSession)

			// Turn endpoint
			chat.POST("/sessions/:id/turns", cfg.Chat.PostTurn)

			// Rate window
			chat.GET("/ratelimit", cfg.Chat.RateLimit)
		}
	}

	logger.Info("HTTP routes registered")
}

func httpMetrics(m *middleware.HTTPMetrics) gin.HandlerFunc {
	if m == nil {
		return nil
	}
	return m.Handler()
}
