package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/assesshub/assess-backend/internal/response"
	"github.com/gin-gonic/gin"
)

// RateLimiter is a per-IP token bucket. Applied to the auth group so
// credential guessing gets throttled without touching the session endpoints,
// which the autosave loop hits frequently by design.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	burst   int           // bucket capacity, granted per window
	window  time.Duration // refill window

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	remaining int
	refilled  time.Time
}

// NewRateLimiter allows burst requests per window per client IP.
func NewRateLimiter(burst int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		burst:   burst,
		window:  window,
		stop:    make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Stop ends the background eviction loop. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stop)
	})
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{remaining: rl.burst, refilled: time.Now()}
		rl.buckets[ip] = b
	}

	if windows := int(time.Since(b.refilled) / rl.window); windows > 0 {
		b.remaining += windows * rl.burst
		if b.remaining > rl.burst {
			b.remaining = rl.burst
		}
		b.refilled = time.Now()
	}

	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// evictLoop drops buckets idle for several windows so the map stays bounded.
func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, b := range rl.buckets {
				if time.Since(b.refilled) > 3*rl.window {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}
