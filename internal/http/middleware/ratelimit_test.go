package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyFuncs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Operator())

	var plain, grouped string
	handler := func(c *gin.Context) {
		plain = KeyByOperatorOrIP()(c)
		grouped = KeyByGroup(KeyByOperatorOrIP())(c)
		c.Status(http.StatusNoContent)
	}
	r.POST("/groups/:id/messages", handler)
	r.GET("/rewards", handler)

	req := httptest.NewRequest(http.MethodPost, "/groups/g1/messages", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if plain != "ip:203.0.113.9" || grouped != "group:g1|ip:203.0.113.9" {
		t.Fatalf("keys: %q %q", plain, grouped)
	}

	req = httptest.NewRequest(http.MethodGet, "/rewards", nil)
	req.Header.Set(operatorIDHeader, "ops")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if plain != "op:ops" || grouped != "op:ops" {
		t.Fatalf("operator keys: %q %q", plain, grouped)
	}
}

func TestNewRateLimiter_BurstCoercion_AndReuse(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByOperatorOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}
	lim := rl.getVisitor("k1")
	if lim == nil || rl.getVisitor("k1") != lim {
		t.Fatalf("expected the same limiter to be reused")
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByOperatorOrIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	old := rate.NewLimiter(1, 1)
	rl.visitors["old"] = &visitor{limiter: old, lastSeen: time.Now().Add(-time.Hour)}
	rl.cleanupN = 4999
	rl.mu.Unlock()

	if got := rl.getVisitor("old"); got == old {
		t.Fatalf("idle bucket should have been evicted and recreated")
	}
	rl.mu.Lock()
	n := rl.cleanupN
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("cleanup counter not reset: %d", n)
	}
}

func TestRateLimiter_Handler429PerGroup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	rl := NewRateLimiter(0, 1, KeyByGroup(KeyByOperatorOrIP()))
	r.Use(rl.Handler())
	r.POST("/groups/:id/messages", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	post := func(group string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/groups/"+group+"/messages", nil)
		req.RemoteAddr = "198.51.100.1:1000"
		r.ServeHTTP(w, req)
		return w
	}

	if w := post("a"); w.Code != http.StatusAccepted {
		t.Fatalf("first: %d", w.Code)
	}
	w := post("a")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("second: %d retry=%q", w.Code, w.Header().Get("Retry-After"))
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}
	if w := post("b"); w.Code != http.StatusAccepted {
		t.Fatalf("other group must have its own bucket, got %d", w.Code)
	}
}
