package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/earthring/zonesync/internal/auth"
	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const (
	rateLimitExceededJSON = `{"error":"Rate limit exceeded","message":"Too many requests. Please try again later.","retry_after":%d}`
)

// RateLimiter builds rate limit middleware over one limiter store, so every
// server instance sharing a Redis store sees the same counters. Each
// middleware gets its own key scope.
type RateLimiter struct {
	store limiter.Store
}

// NewRateLimiter creates a RateLimiter. A nil store keeps counters in
// process memory.
func NewRateLimiter(store limiter.Store) *RateLimiter {
	if store == nil {
		store = memory.NewStore()
	}
	return &RateLimiter{store: store}
}

// NewRedisLimiterStore creates a limiter store backed by Redis.
func NewRedisLimiterStore(client *redis.Client) (limiter.Store, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   "zonesync_limiter",
		MaxRetry: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
	}
	return store, nil
}

// PerUser limits requests per authenticated user within scope, falling back
// to the client IP for anonymous requests. A nil RateLimiter uses a private
// memory store.
func (l *RateLimiter) PerUser(scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return rateLimit(l.storeOrMemory(), limiter.Rate{Period: window, Limit: int64(limit)}, scopedKey(scope, userKey))
}

// PerIP limits requests per client IP within scope, for routes reached
// before authentication.
func (l *RateLimiter) PerIP(scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return rateLimit(l.storeOrMemory(), limiter.Rate{Period: window, Limit: int64(limit)}, scopedKey(scope, getClientIP))
}

// Formatted limits per user with a limiter rate string such as "100-M". An
// invalid format falls back to 100 requests a minute.
func (l *RateLimiter) Formatted(scope, format string) func(http.Handler) http.Handler {
	rate, err := limiter.NewRateFromFormatted(format)
	if err != nil {
		log.Printf("Warning: invalid rate limit %q, using 100-M: %v", format, err)
		rate = limiter.Rate{Period: time.Minute, Limit: 100}
	}
	return rateLimit(l.storeOrMemory(), rate, scopedKey(scope, userKey))
}

func (l *RateLimiter) storeOrMemory() limiter.Store {
	if l == nil {
		return memory.NewStore()
	}
	return l.store
}

func rateLimit(store limiter.Store, rate limiter.Rate, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	instance := limiter.New(store, rate)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			context, err := instance.Get(r.Context(), keyFunc(r))
			if err != nil {
				// A broken limiter must not take the service down
				log.Printf("Rate limiter error: %v", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(context.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(context.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(context.Reset, 10))

			if context.Reached {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				retryAfter := int(time.Until(time.Unix(context.Reset, 0)).Seconds())
				if retryAfter < 0 {
					retryAfter = 0
				}
				if _, err := fmt.Fprintf(w, rateLimitExceededJSON, retryAfter); err != nil {
					log.Printf("Error writing rate limit response: %v", err)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func scopedKey(scope string, keyFunc func(*http.Request) string) func(*http.Request) string {
	if scope == "" {
		return keyFunc
	}
	return func(r *http.Request) string {
		return scope + ":" + keyFunc(r)
	}
}

func userKey(r *http.Request) string {
	if userID, ok := auth.GetUserID(r); ok {
		return fmt.Sprintf("user:%d", userID)
	}
	return getClientIP(r)
}

// getClientIP extracts the client IP address from the request
// Handles X-Forwarded-For header for proxied requests
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	// Remove port if present (e.g., "127.0.0.1:12345" -> "127.0.0.1")
	ip := r.RemoteAddr
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == ':' {
			return ip[:i]
		}
	}
	return ip
}
