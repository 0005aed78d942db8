package http

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// limiterSweepInterval is the minimum time between two sweeps of idle limiters.
	limiterSweepInterval = 5 * time.Minute

	// limiterIdleTTL is how long a limiter may go unused before it is dropped.
	limiterIdleTTL = time.Hour
)

// rateLimiterStore holds per-IP rate limiters. Idle limiters are swept lazily while
// serving requests, so the store owns no goroutine.
type rateLimiterStore struct {
	limiters  sync.Map // map[string]*rateLimiterEntry (IP -> limiter)
	rps       float64
	burst     int
	now       func() time.Time
	sweepMu   sync.Mutex
	lastSweep time.Time
}

// rateLimiterEntry holds a rate limiter and its last access time.
type rateLimiterEntry struct {
	limiter    *rate.Limiter
	mu         sync.Mutex
	lastAccess time.Time
}

func newRateLimiterStore(rps float64, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		rps:       rps,
		burst:     burst,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

// RateLimitMiddleware enforces per-IP rate limiting with a token bucket per address.
//
// Uses c.ClientIP(), which honors X-Forwarded-For and X-Real-IP from trusted proxies.
//
// Returns:
//   - 429 Too Many Requests with a Retry-After header when the bucket is empty
//   - Continues otherwise
func RateLimitMiddleware(rps float64, burst int, logger *slog.Logger) gin.HandlerFunc {
	store := newRateLimiterStore(rps, burst)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		limiter := store.getLimiter(clientIP)

		if !limiter.Allow() {
			reservation := limiter.Reserve()
			retryAfter := int(math.Ceil(reservation.Delay().Seconds()))
			reservation.Cancel()

			logger.Debug("rate limit exceeded",
				slog.String("client_ip", clientIP),
				slog.Int("retry_after", retryAfter))

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please retry after the specified delay.",
			})
			return
		}

		c.Next()
	}
}

// getLimiter returns the limiter for ip, creating it on first use.
func (s *rateLimiterStore) getLimiter(ip string) *rate.Limiter {
	now := s.now()
	s.sweep(now)

	entry := &rateLimiterEntry{
		limiter:    rate.NewLimiter(rate.Limit(s.rps), s.burst),
		lastAccess: now,
	}
	val, loaded := s.limiters.LoadOrStore(ip, entry)
	if loaded {
		entry = val.(*rateLimiterEntry)
		entry.mu.Lock()
		entry.lastAccess = now
		entry.mu.Unlock()
	}
	return entry.limiter
}

// sweep drops limiters idle for longer than limiterIdleTTL, at most once per
// limiterSweepInterval.
func (s *rateLimiterStore) sweep(now time.Time) {
	if !s.sweepMu.TryLock() {
		return
	}
	defer s.sweepMu.Unlock()

	if now.Sub(s.lastSweep) < limiterSweepInterval {
		return
	}
	s.lastSweep = now

	threshold := now.Add(-limiterIdleTTL)
	s.limiters.Range(func(key, value any) bool {
		entry := value.(*rateLimiterEntry)
		entry.mu.Lock()
		idle := entry.lastAccess.Before(threshold)
		entry.mu.Unlock()

		if idle {
			s.limiters.Delete(key)
		}
		return true
	})
}

// size counts the tracked addresses.
func (s *rateLimiterStore) size() int {
	n := 0
	s.limiters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
