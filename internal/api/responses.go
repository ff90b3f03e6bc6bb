package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wcagai/scanner-go/pkg/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// ErrorResponse maps a typed error to an HTTP status and sends it
func ErrorResponse(c *gin.Context, err error) {
	apiErr := &APIError{
		Code:    errors.GetCode(err),
		Message: err.Error(),
	}
	if appErr, ok := err.(*errors.AppError); ok {
		apiErr.Message = appErr.Message
		apiErr.Details = appErr.Details
	}

	c.JSON(statusFor(err), APIResponse{
		Success:   false,
		Error:     apiErr,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// statusFor maps the error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeSecurity:
		return http.StatusForbidden
	case errors.ErrorTypeExhausted, errors.ErrorTypeUnavailable, errors.ErrorTypeShutdown:
		return http.StatusServiceUnavailable
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
