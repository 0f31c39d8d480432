package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WindowCounter counts hits per key in fixed windows.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	requests int64
	window   time.Duration
	counter  WindowCounter
	logger   *zap.Logger
}

// NewRateLimiter allows requests hits per client per window. A zero limit
// disables limiting.
func NewRateLimiter(requests int, window time.Duration, counter WindowCounter, logger *zap.Logger) *RateLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	if counter == nil {
		counter = NewMemoryCounter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{requests: int64(requests), window: window, counter: counter, logger: logger}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, err := l.counter.Hit(r.Context(), clientKey(r), l.window)
		if err != nil {
			// fail open
			l.logger.Warn("rate limit counter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if count > l.requests {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type clientWindow struct {
	count   int64
	expires time.Time
}

// MemoryCounter keeps windows in process memory.
type MemoryCounter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{clients: make(map[string]*clientWindow), now: time.Now}
}

func (c *MemoryCounter) Hit(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	state, ok := c.clients[key]
	if !ok || now.After(state.expires) {
		c.clients[key] = &clientWindow{count: 1, expires: now.Add(window)}
		return 1, nil
	}
	state.count++
	return state.count, nil
}

// RedisCounter shares windows between replicas.
type RedisCounter struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb, prefix: "ratelimit:"}
}

func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := c.prefix + key
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}
