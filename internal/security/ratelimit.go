package security

import (
	"context"
	"sync"
	"time"

	"github.com/chirino/chat-service/internal/apierror"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter keeps a token bucket per key, refilled at perMinute tokens a minute.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	limiters  map[string]*limiterEntry
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns a limiter allowing perMinute requests per key. A
// non-positive perMinute allows everything. Idle keys are dropped until ctx is done.
func NewRateLimiter(ctx context.Context, perMinute int) *RateLimiter {
	rl := &RateLimiter{
		perMinute: perMinute,
		limiters:  make(map[string]*limiterEntry),
		now:       time.Now,
	}
	if perMinute > 0 {
		go rl.cleanup(ctx, time.Minute)
	}
	return rl
}

// Allow reports whether a request for key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.perMinute <= 0 {
		return true
	}
	rl.mu.Lock()
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMinute)), rl.perMinute)}
		rl.limiters[key] = e
	}
	now := rl.now()
	e.lastSeen = now
	rl.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanup(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-idle)
			for key, e := range rl.limiters {
				if e.lastSeen.Before(cutoff) {
					delete(rl.limiters, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimitByIP rejects clients that exceed the limiter, keyed by client IP.
func RateLimitByIP(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			apierror.Respond(c, apierror.ErrRateLimited)
			return
		}
		c.Next()
	}
}

// RateLimitByUser rejects authenticated users that exceed the limiter. It must
// run after AuthMiddleware.
func RateLimitByUser(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(GetUserID(c).String()) {
			apierror.Respond(c, apierror.ErrRateLimited)
			return
		}
		c.Next()
	}
}
