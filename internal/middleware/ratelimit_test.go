package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d within burst was denied", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Fatal("request over burst was allowed")
	}

	// Another client has its own bucket.
	if !rl.allow("10.0.0.2") {
		t.Fatal("unrelated client was denied")
	}
}

func TestRateLimiterRefillsAfterWindow(t *testing.T) {
	rl := NewRateLimiter(2, 10*time.Millisecond)
	defer rl.Stop()

	rl.allow("10.0.0.1")
	rl.allow("10.0.0.1")
	if rl.allow("10.0.0.1") {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(15 * time.Millisecond)
	if !rl.allow("10.0.0.1") {
		t.Fatal("bucket did not refill after the window")
	}
}

func TestRateLimiterMiddlewareRejectsWith429(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	r := gin.New()
	r.GET("/", rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		return w.Code
	}

	if got := do(); got != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", got)
	}
	if got := do(); got != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", got)
	}
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Stop()
	rl.Stop() // must not panic

	// The limiter keeps serving after Stop; only eviction ends.
	if !rl.allow("10.0.0.1") {
		t.Fatal("allow failed after Stop")
	}
}
