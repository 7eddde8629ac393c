package handlers

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// RequestMetrics counts requests by route and status on reg.
func RequestMetrics(reg prometheus.Registerer) gin.HandlerFunc {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tshirt_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
	if err := reg.Register(requests); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			requests = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// RateLimiter keeps a token bucket per client IP. A bucket holds the full
// request budget and refills it evenly over the window.
type RateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	clients   map[string]*visitor
	lastPrune time.Time
	nowFunc   func() time.Time
	message   string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requests per window per client. requests <= 0
// disables limiting.
func NewRateLimiter(requests int, window time.Duration, message string) *RateLimiter {
	l := &RateLimiter{
		burst:   requests,
		idle:    window,
		clients: map[string]*visitor{},
		nowFunc: time.Now,
		message: message,
	}
	if requests > 0 && window > 0 {
		l.limit = rate.Limit(float64(requests) / window.Seconds())
	} else {
		l.limit = rate.Inf
	}
	return l
}

// quota is the outcome of one request against a client's bucket.
type quota struct {
	allowed    bool
	remaining  int
	reset      time.Duration // until the bucket is full again
	retryAfter time.Duration // until the next token, when rejected
}

// Allow reports whether client may make a request now, consuming a token.
func (l *RateLimiter) Allow(client string) bool {
	return l.take(client).allowed
}

func (l *RateLimiter) take(client string) quota {
	if l.limit == rate.Inf {
		return quota{allowed: true}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.prune(now)
	v, ok := l.clients[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = v
	}
	v.lastSeen = now

	q := quota{allowed: v.limiter.AllowN(now, 1)}
	tokens := max(v.limiter.TokensAt(now), 0)
	perToken := float64(l.idle) / float64(l.burst)
	q.remaining = int(math.Floor(tokens))
	q.reset = time.Duration((float64(l.burst) - tokens) * perToken)
	if !q.allowed {
		q.retryAfter = time.Duration((1 - tokens) * perToken)
	}
	return q
}

// prune drops clients idle for a full window; their buckets are full again.
func (l *RateLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < l.idle {
		return
	}
	for k, v := range l.clients {
		if now.Sub(v.lastSeen) >= l.idle {
			delete(l.clients, k)
		}
	}
	l.lastPrune = now
}

// Middleware rejects over-budget clients with 429. Limited routes carry the
// RateLimit-Limit, RateLimit-Remaining and RateLimit-Reset headers.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		q := l.take(c.ClientIP())
		if l.limit != rate.Inf {
			h := c.Writer.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(l.burst))
			h.Set("RateLimit-Remaining", strconv.Itoa(q.remaining))
			h.Set("RateLimit-Reset", strconv.Itoa(seconds(q.reset)))
		}
		if !q.allowed {
			c.Header("Retry-After", strconv.Itoa(max(seconds(q.retryAfter), 1)))
			reject(c, http.StatusTooManyRequests, l.message)
			return
		}
		c.Next()
	}
}

// seconds rounds d up to whole seconds.
func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
