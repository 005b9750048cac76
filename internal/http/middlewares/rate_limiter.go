package middlewares

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/medcard/internal/actorctx"
)

// Limiter decides whether one more hit on key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	now     func() time.Time
	clients map[string]*clientBucket
}

type clientBucket struct {
	count     int
	windowEnd time.Time
}

// NewRateLimiter is the process-local fixed window limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*clientBucket),
	}
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[key]
	if !ok || !now.Before(b.windowEnd) {
		rl.clients[key] = &clientBucket{count: 1, windowEnd: now.Add(rl.window)}
		rl.sweep(now)
		return true, 0, nil
	}

	if b.count >= rl.limit {
		return false, b.windowEnd.Sub(now), nil
	}

	b.count++
	return true, 0, nil
}

// sweep drops finished windows once the map grows.
func (rl *RateLimiter) sweep(now time.Time) {
	if len(rl.clients) < 10_000 {
		return
	}
	for k, b := range rl.clients {
		if !now.Before(b.windowEnd) {
			delete(rl.clients, k)
		}
	}
}

// WindowCounter is implemented by redisclient.Client.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisLimiter shares the fixed window across API replicas. When redis is
// unreachable it falls back to a local limiter instead of failing requests.
type RedisLimiter struct {
	counter  WindowCounter
	prefix   string
	limit    int
	window   time.Duration
	fallback *RateLimiter
	log      *slog.Logger
}

func NewRedisLimiter(counter WindowCounter, prefix string, limit int, window time.Duration, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RedisLimiter{
		counter:  counter,
		prefix:   prefix,
		limit:    limit,
		window:   window,
		fallback: NewRateLimiter(limit, window),
		log:      log,
	}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	n, left, err := rl.counter.IncrWindow(ctx, "ratelimit:"+rl.prefix+":"+key, rl.window)
	if err != nil {
		rl.log.WarnContext(ctx, "rate limiter falling back to memory", "scope", rl.prefix, "err", err)
		return rl.fallback.Allow(ctx, key)
	}

	if n > int64(rl.limit) {
		return false, left, nil
	}
	return true, 0, nil
}

// RateLimit enforces l for the key derived from the request. onLimited may
// be nil.
func RateLimit(l Limiter, keyFn func(*gin.Context) string, onLimited func(route string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		ok, retryAfter, err := l.Allow(c.Request.Context(), key)
		if err != nil || ok {
			c.Next()
			return
		}

		if onLimited != nil {
			onLimited(c.FullPath())
		}

		secs := int(retryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))

		reqID, _ := c.Get(CtxRequestID)
		id, _ := reqID.(string)

		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{
				"code":      "rate_limited",
				"message":   "Too many requests. Please try again shortly.",
				"requestId": id,
			},
		})
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

func KeyByUserOrIP(c *gin.Context) string {
	id, ok := UserIDFromContext(c)

	if ok && id != "" {
		return "user:" + id
	}

	return clientIP(c)
}

// ClientContext copies the resolved client address onto the request
// context, for handlers that rate limit below gin (GraphQL resolvers).
func ClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(actorctx.WithClientIP(c.Request.Context(), clientIP(c)))
		c.Next()
	}
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
