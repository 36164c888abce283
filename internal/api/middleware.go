package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"docqa/internal/auth"
	"docqa/internal/metrics"
	"docqa/internal/observability"
)

const ownerKey = "owner_id"

// ownerFrom returns the authenticated owner set by RequireOwner.
func ownerFrom(c *gin.Context) string {
	return c.GetString(ownerKey)
}

// RequireOwner rejects requests without a valid bearer token and stores
// the token subject as the request owner.
func RequireOwner(v *auth.JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		owner, err := v.ValidateHeader(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

// OwnerLimiter keeps one token bucket per owner.
type OwnerLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewOwnerLimiter(requestsPerSecond float64, burst int) *OwnerLimiter {
	if burst < 1 {
		burst = 1
	}
	return &OwnerLimiter{
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether owner may make a request now.
func (l *OwnerLimiter) Allow(owner string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[owner]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[owner] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimit answers 429 once an owner exceeds its budget.
func RateLimit(l *OwnerLimiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(ownerFrom(c)) {
			m.RateLimitHits.Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if owner := ownerFrom(c); owner != "" {
			fields["owner_id"] = owner
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("Request failed", fields)
		default:
			logger.Debug("Request handled", fields)
		}
	}
}
