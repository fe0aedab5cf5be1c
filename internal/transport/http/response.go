package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	platformerrors "photosort-server-go/internal/platform/errors"
)

// ErrorBody is the uniform error payload for every failed request.
type ErrorBody struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondError writes the uniform error payload.
func RespondError(c *gin.Context, httpStatus int, message, details string, kind platformerrors.Kind) {
	c.JSON(httpStatus, ErrorBody{
		Error:     message,
		Details:   details,
		Type:      string(kind),
		RequestID: RequestID(c),
	})
}

// StatusForKind maps an error classification to its HTTP status.
func StatusForKind(kind platformerrors.Kind) int {
	switch kind {
	case platformerrors.KindValidation:
		return http.StatusBadRequest
	case platformerrors.KindRateLimit:
		return http.StatusTooManyRequests
	case platformerrors.KindBreaker:
		return http.StatusServiceUnavailable
	case platformerrors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
