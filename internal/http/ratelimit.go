package http

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"golang.org/x/time/rate"
)

// originLimiter rate-limits dApp calls per page origin, falling back to the
// client IP when the request carries no Origin.
type originLimiter struct {
	rate  rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// newOriginLimiter returns nil when perSecond <= 0, which disables limiting.
func newOriginLimiter(perSecond float64, burst int) *originLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &originLimiter{
		rate:     rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *originLimiter) get(key string) *rate.Limiter {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterSweepInterval {
		for k, e := range l.limiters {
			if now.Sub(e.lastAccess) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastAccess = now
	return e.limiter
}

func (l *originLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func limiterKey(c *gin.Context) string {
	if o := normalizeOrigin(c.GetHeader("Origin")); o != "" {
		return "origin:" + o
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

func (l *originLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := limiterKey(c)
		lim := l.get(key)
		if !lim.AllowN(l.now(), 1) {
			log.Warn("rate limit exceeded", "client", key, "path", c.Request.URL.Path)
			c.Header("Retry-After", "1")
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", l.burst))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{JSONKeyError: HTTPErrorTooManyRequests})
			return
		}
		c.Next()
	}
}
