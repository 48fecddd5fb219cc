package server

import (
	"strings"
	"time"

	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"route":   c.FullPath(),
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}
	if len(c.Errors) > 0 {
		fields["errors"] = c.Errors.String()
	}

	// event streams stay open for minutes; their latency is not a request latency
	if strings.HasSuffix(c.FullPath(), "/events") {
		utils.Debug("HTTP Stream", fields)
		return
	}
	utils.Info("HTTP Request", fields)
}
