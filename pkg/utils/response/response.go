package response

import (
	"net/http"

	"arenajudge/pkg/errors"
	"arenajudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TraceKey is the gin context key holding the request trace ID.
const TraceKey = "trace_id"

// Response represents a standard API response
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data,omitempty"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

// Success sends a successful response with data
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.Success,
		Message: "Success",
		Data:    data,
		TraceID: getTraceID(c),
	})
}

// Accepted sends a 202 for work that continues asynchronously.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    errors.Success,
		Message: "Accepted",
		Data:    data,
		TraceID: getTraceID(c),
	})
}

// Error sends an error response
// It automatically extracts error code and message from the error
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)
	status := customErr.Code.HTTPStatus()

	fields := []zap.Field{
		zap.Int("code", int(customErr.Code)),
		zap.String("message", customErr.Error()),
		zap.Any("details", customErr.Details),
	}
	if status >= http.StatusInternalServerError {
		fields = append(fields, zap.NamedError("cause", customErr.Err), zap.String("stack", customErr.Stack))
		logger.Error(c.Request.Context(), "request error", fields...)
	} else {
		logger.Warn(c.Request.Context(), "request rejected", fields...)
	}

	message := customErr.Error()
	if customErr.Code == errors.InternalServerError {
		message = errors.InternalServerError.Message()
	}
	c.JSON(status, Response{
		Code:    customErr.Code,
		Message: message,
		Details: nonEmpty(customErr.Details),
		TraceID: getTraceID(c),
	})
}

// BadRequest sends a 400 bad request error
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, errors.InvalidParams, message)
}

func nonEmpty(details map[string]interface{}) interface{} {
	if len(details) == 0 {
		return nil
	}
	return details
}

func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceKey); exists {
		if s, ok := traceID.(string); ok {
			return s
		}
	}
	return ""
}
