// Package handlers provides HTTP handler implementations for the public API.
//
// Every failure leaves through fail(), which writes an ErrorResponse carrying
// the request id and one of the codes in errors.go. Consensus outcomes such as
// a pending draft or a late vote map to 4xx codes; ledger and storage failures
// map to 5xx and are logged with the request-scoped logger.
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "draft_pending",
//	  "message": "a draft is awaiting its verdict"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/groupwrite/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"draft_pending"`
	// Human-readable message; never echoes message text or votes
	Message string `json:"message" example:"a draft is awaiting its verdict"`
}

// fail aborts the request with an ErrorResponse. Statuses of 500 and above
// are logged at error level; a failed ledger call (502) is one of them.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg)
		if gid := c.Param("id"); gid != "" {
			ev = ev.Str("group_id", gid)
		}
		ev.Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is fail for the router's NoRoute and NoMethod handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
