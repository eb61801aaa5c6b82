package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"analyzer-backend/internal/shared/telemetry"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		ownerID, _ := OwnerIDFromContext(c)
		documentIDs, _ := c.Get("documentIds")
		runID := c.GetString("runId")

		telemetry.Info("request.complete", map[string]any{
			"request_id":   RequestIDFromContext(c),
			"method":       c.Request.Method,
			"path":         c.Request.URL.Path,
			"route":        c.FullPath(),
			"status":       c.Writer.Status(),
			"duration_ms":  float64(latency.Microseconds()) / 1000.0,
			"owner_id":     ownerID,
			"document_ids": documentIDs,
			"run_id":       runID,
			"client_ip":    c.ClientIP(),
			"user_agent":   c.Request.UserAgent(),
		})
	}
}
