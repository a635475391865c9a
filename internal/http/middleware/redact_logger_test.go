package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedactingLogger_MasksMembersData(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Operator(), RedactingLogger(RedactOptions{
		MaskHeaders:          []string{"X-Api-Key"},
		MaskQueryParams:      []string{"text", "sender_id"},
		PseudonymizeOperator: true,
	}))
	r.POST("/groups/:id/messages", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("inside")
		c.Status(http.StatusAccepted)
	})

	body := strings.NewReader(`{"sender_id":"alice@example.com","text":"call me on 212 555 1212"}`)
	req := httptest.NewRequest(http.MethodPost, "/groups/g-1/messages?text=secret+plan&sender_id=alice&note=mail+bob@example.com", body)
	req.Header.Set(operatorIDHeader, "alice")
	req.Header.Set("Authorization", "Bearer t0ken")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set("X-Custom", "reach me at 212-555-1212")
	r.ServeHTTP(httptest.NewRecorder(), req)

	logs := buf.String()
	for _, leaked := range []string{"alice", "secret", "t0ken", "shhh", "212-555-1212", "212 555 1212", "bob@example.com", "call me"} {
		if strings.Contains(logs, leaked) {
			t.Fatalf("log leaked %q: %s", leaked, logs)
		}
	}

	lines := logLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), logs)
	}
	want := Pseudonym("alice")
	if lines[0]["operator_id"] != want || lines[1]["operator_id"] != want {
		t.Fatalf("operator id not pseudonymized: %v / %v", lines[0]["operator_id"], lines[1]["operator_id"])
	}
	access := lines[1]
	if access["query"] != "note=mail [REDACTED:email]&sender_id=[REDACTED]&text=[REDACTED]" {
		t.Fatalf("query: %v", access["query"])
	}
	headers, _ := access["headers"].(map[string]any)
	if headers["Authorization"] != "[REDACTED]" || headers["X-Api-Key"] != "[REDACTED]" || headers["X-Operator-Id"] != "[REDACTED]" {
		t.Fatalf("headers not masked: %v", headers)
	}
	if headers["X-Custom"] != "reach me at [REDACTED:phone]" {
		t.Fatalf("X-Custom: %v", headers["X-Custom"])
	}
}

func TestRedactingLogger_DefaultKeepsOperatorID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Operator(), Logger())
	r.GET("/rewards", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/rewards?instance_id=inst-1", nil)
	req.Header.Set(operatorIDHeader, "ops-7")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["operator_id"] != "ops-7" || lines[0]["query"] != "instance_id=inst-1" {
		t.Fatalf("unexpected access log: %v", lines)
	}
}

func TestPseudonymAndRedact(t *testing.T) {
	if Pseudonym("") != "" {
		t.Fatalf("empty id should stay empty")
	}
	a, b := Pseudonym("alice"), Pseudonym("bob")
	if a == b || a != Pseudonym("alice") || !strings.HasPrefix(a, "op-") || len(a) != len("op-")+12 {
		t.Fatalf("pseudonyms: %q %q", a, b)
	}
	if got := Redact("id 7f3c9a2e-1b4d-4c8e-9f00-aa11bb22cc33 stays"); got != "id 7f3c9a2e-1b4d-4c8e-9f00-aa11bb22cc33 stays" {
		t.Fatalf("draft ids must not be redacted: %q", got)
	}
	if got := scrubQuery("%zz", nil); got != "%zz" {
		t.Fatalf("unparsable query: %q", got)
	}
}
