// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the structured access logger. It
// attaches the request-scoped zerolog.Logger used by handlers and writes one
// access log line per request with group members' data scrubbed:
//
//   - Request bodies (message text, votes, amounts) are never logged.
//   - Query parameters named in MaskQueryParams are replaced entirely; the
//     rest of the query has e-mail addresses and phone numbers redacted.
//   - Sensitive headers (Authorization, Cookie, Set-Cookie, X-Operator-ID
//     plus MaskHeaders) are masked; other header values are pattern-scrubbed.
//   - With PseudonymizeOperator the operator id, which doubles as the voter
//     and sender id, is logged as a stable hash instead of the raw value.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders lists extra header names whose values are replaced with
	// "[REDACTED]". Matching is case-insensitive.
	MaskHeaders []string
	// MaskQueryParams lists query parameters whose values are replaced with
	// "[REDACTED]" (e.g. "text", "sender_id").
	MaskQueryParams []string
	// PseudonymizeOperator logs operator_id as "op-<hash>".
	PseudonymizeOperator bool
}

var (
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex ids are left alone.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Redact scrubs e-mail addresses and phone numbers from s.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// Pseudonym returns a stable, non-reversible label for an identifier.
func Pseudonym(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return "op-" + hex.EncodeToString(sum[:6])
}

// RedactingLogger returns the access-log middleware. It must run after
// RequestID and Operator.
//
// Level is chosen by outcome: error for 5xx or collected Gin errors, warn for
// 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	maskHeaders[strings.ToLower(operatorIDHeader)] = struct{}{}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}
	maskParams := make(map[string]struct{}, len(opts.MaskQueryParams))
	for _, p := range opts.MaskQueryParams {
		if p = strings.TrimSpace(p); p != "" {
			maskParams[p] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = Redact(strings.Join(vv, ", "))
		}

		lc := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(scrubQuery(c.Request.URL.RawQuery, maskParams), maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength)
		if op := OperatorID(c); op != "" {
			if opts.PseudonymizeOperator {
				op = Pseudonym(op)
			}
			lc = lc.Str("operator_id", op)
		}
		if strings.Contains(path, "/groups/") {
			if gid := c.Param("id"); gid != "" {
				lc = lc.Str("group_id", gid)
			}
		}
		l := lc.Logger()
		c.Set("logger", &l)

		c.Next()

		ev := l.With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Interface("headers", headers).
			Logger()

		status := c.Writer.Status()
		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// scrubQuery masks the listed parameters and pattern-redacts the rest. An
// unparsable query is pattern-redacted as a whole.
func scrubQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return Redact(raw)
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(vals))
	for _, k := range keys {
		_, masked := mask[k]
		for _, v := range vals[k] {
			if masked {
				v = "[REDACTED]"
			} else {
				v = Redact(v)
			}
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&")
}
