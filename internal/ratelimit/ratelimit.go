// Package ratelimit is a fixed-window limiter backed by Redis INCR/EXPIRE.
// It fails open: without Redis, or on Redis errors, requests pass.
package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-engine/internal/metrics"
)

type Limiter struct {
	client  redis.UniversalClient
	max     int
	window  time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New returns a limiter. A nil client disables limiting.
func New(client redis.UniversalClient, max int, window time.Duration, m *metrics.Metrics, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{client: client, max: max, window: window, metrics: m, log: log}
}

// Allow counts one hit for ident in the current window.
func (l *Limiter) Allow(ctx context.Context, ident string) (bool, error) {
	if l == nil || l.client == nil || l.max <= 0 {
		return true, nil
	}
	key := "rl:" + strconv.FormatInt(int64(l.window.Seconds()), 10) + ":" + ident

	val, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if val == 1 {
		l.client.Expire(ctx, key, l.window)
	}
	return val <= int64(l.max), nil
}

// Middleware limits by client IP under the given endpoint label.
func (l *Limiter) Middleware(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), endpoint+":"+clientIP(r))
			if err != nil {
				l.log.Warn("rate limiter unavailable", zap.Error(err))
				w.Header().Set("X-RateLimit-Error", "redis-error")
			}
			if !ok {
				l.metrics.RateLimited(endpoint, true)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			l.metrics.RateLimited(endpoint, false)
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
