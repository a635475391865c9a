// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides request correlation, caller identification, structured
// access logging and panic recovery:
//
//   - RequestID() propagates or generates X-Request-ID.
//   - Operator() records the calling operator (X-Operator-ID) in the context.
//   - Logger() emits one access log per request and attaches a request-scoped
//     zerolog.Logger carrying request_id, operator_id and, on group routes,
//     group_id (see RedactingLogger).
//   - Recovery() converts panics into the JSON error envelope.
//   - LoggerFrom() retrieves the request-scoped logger.
//
// Recommended order: RequestID, Operator, Logger, Recovery.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"

	operatorIDKey    = "operatorID"
	operatorIDHeader = "X-Operator-ID"

	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
	// maxOperatorIDLength caps the accepted operator id.
	maxOperatorIDLength = 128
)

// RequestID attaches (or propagates) a correlation identifier per request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Operator stores the caller's operator id, taken from X-Operator-ID, in the
// Gin context. Oversized values are ignored. Authentication is left to the
// deployment's gateway.
func Operator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(operatorIDHeader)); id != "" && len(id) <= maxOperatorIDLength {
			c.Set(operatorIDKey, id)
		}
		c.Next()
	}
}

// OperatorID returns the operator id set by Operator, or "".
func OperatorID(c *gin.Context) string {
	v, _ := c.Get(operatorIDKey)
	return asString(v)
}

// Logger is RedactingLogger with default options: bodies are never logged,
// sensitive headers are masked and the operator id is logged as sent.
func Logger() gin.HandlerFunc {
	return RedactingLogger(RedactOptions{})
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500
// error carrying the request id.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger, or the global logger
// when Logger() did not run.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
