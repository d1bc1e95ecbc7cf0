// Package middleware provides gin middleware shared by the HTTP surface.
package middleware

import "github.com/gin-gonic/gin"

// Chain 组合多个中间件，按传入顺序执行。
func Chain(mws ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}
