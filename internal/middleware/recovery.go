package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulsecare/pulsecare/pkg/errors"
	"github.com/pulsecare/pulsecare/pkg/logger"
	"github.com/pulsecare/pulsecare/pkg/response"
)

// NotFoundHandler answers unmatched routes with a structured 404.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.New("not_found", "route not found", http.StatusNotFound))
}

// Recovery converts panics into a 500 response without leaking internals.
func Recovery() gin.HandlerFunc {
	log := logger.WithModule("http")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", r),
				)
				response.Error(c, errors.ErrInternal)
				c.Abort()
			}
		}()
		c.Next()
	}
}
