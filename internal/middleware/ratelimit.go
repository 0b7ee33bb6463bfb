package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"nodevideo/internal/metrics"
)

const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller: the authenticated user, or
// the client IP before authentication.
type RateLimiter struct {
	rate  rate.Limit
	burst int
	route string

	mu          sync.Mutex
	clients     map[string]*clientLimiter
	lastCleanup time.Time
}

func NewRateLimiter(route string, perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:        rate.Limit(perSecond),
		burst:       burst,
		route:       route,
		clients:     make(map[string]*clientLimiter),
		lastCleanup: time.Now(),
	}
}

func (l *RateLimiter) allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = cl
	}
	cl.lastSeen = now

	if now.Sub(l.lastCleanup) > limiterIdle {
		for k, v := range l.clients {
			if now.Sub(v.lastSeen) > limiterIdle {
				delete(l.clients, k)
			}
		}
		l.lastCleanup = now
	}
	return cl.limiter.AllowN(now, 1)
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if identity, ok := CurrentIdentity(c); ok {
			key = "user:" + identity.UserID
		}

		if !l.allow(key) {
			metrics.RateLimitedTotal.WithLabelValues(l.route).Inc()
			retry := 1
			if l.rate > 0 {
				retry = int(1/float64(l.rate)) + 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}
