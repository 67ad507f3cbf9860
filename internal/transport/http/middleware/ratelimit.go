package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"certguide/internal/transport/http/response"
)

const pruneThreshold = 1024

// RateLimiter gives every client IP a token bucket of requests per window.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	clients map[string]*clientBucket
	now     func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 100
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		idle:    window,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

// Reserve consumes a token for key. When none is available it returns
// false and the wait until the next token.
func (l *RateLimiter) Reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.clients) > pruneThreshold {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > l.idle {
				delete(l.clients, k)
			}
		}
	}
	b, ok := l.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := b.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.Reserve(c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			response.Abort(c, http.StatusTooManyRequests, response.CodeTooManyRequests, "too many requests, please try again later")
			return
		}
		c.Next()
	}
}
