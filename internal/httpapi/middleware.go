package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// requestLogger logs each request once it completes.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http_request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.String("client_ip", c.ClientIP()),
			slog.Duration("duration", time.Since(start)))
	}
}

// recovery turns a panicking handler into a 500 response.
func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		logger.Error("http_panic", slog.Any("panic", err), slog.String("path", c.Request.URL.Path))
		Fail(c, http.StatusInternalServerError, "internal server error")
		c.Abort()
	})
}

// ipRateLimiter keeps one token bucket per client IP. Buckets unused for
// idleTTL are dropped.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(perMinute, burst int) *ipRateLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &ipRateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		lastGC:   time.Now(),
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.lastGC) > l.idleTTL {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > l.idleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}
	e, ok := l.limiters[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// rateLimit rejects clients exceeding perMinute requests with 429.
func rateLimit(perMinute, burst int) gin.HandlerFunc {
	l := newIPRateLimiter(perMinute, burst)
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			Fail(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
