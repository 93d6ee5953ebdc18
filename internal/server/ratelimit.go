package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	rateLimiterIdleTTL     = 10 * time.Minute
	rateLimiterSweepPeriod = time.Minute
)

// clientRateLimiter keeps one token bucket per client IP.
type clientRateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*clientBucket
	lastSweep time.Time
	clock     func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientRateLimiter(perMinute int, clock func() time.Time) *clientRateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &clientRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		clients: make(map[string]*clientBucket),
		clock:   clock,
	}
}

func (l *clientRateLimiter) allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if now.Sub(l.lastSweep) >= rateLimiterSweepPeriod {
		for ip, bucket := range l.clients {
			if now.Sub(bucket.lastSeen) > rateLimiterIdleTTL {
				delete(l.clients, ip)
			}
		}
		l.lastSweep = now
	}

	bucket, ok := l.clients[clientIP]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientIP] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

func (h *httpHandler) rateLimitAuth(c *gin.Context) {
	if h.authLimiter == nil {
		c.Next()
		return
	}
	clientIP := c.ClientIP()
	if !h.authLimiter.allow(clientIP) {
		h.logger.Info("auth rate limit exceeded", zap.String("client_ip", clientIP))
		c.Header("Retry-After", "60")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "rate_limited", Code: "auth.rate_limited"})
		return
	}
	c.Next()
}
