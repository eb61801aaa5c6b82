package respond

import (
	"github.com/gin-gonic/gin"

	"analyzer-backend/internal/shared/telemetry"
)

// Error codes shared by all handlers.
const (
	CodeInternal            = "E001"
	CodeInvalidInput        = "E002"
	CodeUserNotFound        = "U001"
	CodeUserConflict        = "U002"
	CodeDatabase            = "D001"
	CodeQueryFailed         = "D002"
	CodeGeneratorError      = "A001"
	CodeFileUpload          = "A002"
	CodeFileNotFound        = "A003"
	CodeGeneratorKeyInvalid = "A004"
	CodeGeneratorFailed     = "A005"
	CodeTokenNotFound       = "AUTH001"
	CodeAuthNotConfigured   = "AUTH002"
	CodeAuthFailed          = "AUTH003"
	CodeForbidden           = "AUTH004"
	CodeRateLimited         = "RATE001"
	CodeUnavailable         = "E003"
)

// ErrorBody defines the standardized error object.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, details interface{}) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if ownerID := c.GetInt64("ownerId"); ownerID > 0 {
		fields["owner_id"] = ownerID
	}
	telemetry.Error("http.error", fields)

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
