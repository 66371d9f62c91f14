package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// bucketIdleWindow is how long an untouched bucket survives before the next
// sweep reclaims it.
const bucketIdleWindow = 5 * time.Minute

// RateLimiter throttles per tenant and caller. Buckets are keyed by the
// resolved tenant slug plus the client IP, so one tenant's burst behind a
// shared egress address does not starve another tenant on the same address.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter for the provided requests-per-minute
// budget. A non-positive budget disables throttling.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burst,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// Handler returns the gin middleware enforcing throttling behaviour. It must
// run after tenant resolution so the bucket key can carry the tenant slug;
// requests without a resolved tenant fall back to the IP alone.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if !r.allow(rateKey(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "Too many requests. Please slow down.",
			})
			return
		}

		c.Next()
	}
}

func rateKey(c *gin.Context) string {
	if tenantCtx, ok := GetTenantContext(c); ok {
		return tenantCtx.Slug + "|" + c.ClientIP()
	}
	return c.ClientIP()
}

func (r *RateLimiter) allow(key string) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.buckets[key]
	if !ok {
		entry = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[key] = entry
	}
	entry.lastSeen = now

	if now.Sub(r.lastSweep) > bucketIdleWindow {
		r.sweepLocked(now)
		r.lastSweep = now
	}
	return entry.limiter.Allow()
}

func (r *RateLimiter) sweepLocked(now time.Time) {
	for key, entry := range r.buckets {
		if now.Sub(entry.lastSeen) > bucketIdleWindow {
			delete(r.buckets, key)
		}
	}
}
