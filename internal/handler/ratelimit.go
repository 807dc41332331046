package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pismenka-api/internal/config"
)

var errThrottled = errors.New("too many requests, slow down")

type originLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// OriginLimiter throttles HTTP requests per origin address with a token
// bucket. Buckets idle longer than the TTL are dropped by Cleanup.
type OriginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*originLimiter
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewOriginLimiter creates a limiter from configuration
func NewOriginLimiter(cfg config.RateLimitConfig, logger *slog.Logger) *OriginLimiter {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &OriginLimiter{
		limiters: make(map[string]*originLimiter),
		limit:    rate.Limit(rps),
		burst:    burst,
		ttl:      cfg.TTL,
		now:      time.Now,
		logger:   logger,
	}
}

// Allow reports whether origin may make another request now
func (l *OriginLimiter) Allow(origin string) bool {
	l.mu.Lock()
	entry, ok := l.limiters[origin]
	if !ok {
		entry = &originLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[origin] = entry
	}
	now := l.now()
	entry.lastAccess = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// Cleanup drops buckets not used within the TTL and returns how many
func (l *OriginLimiter) Cleanup() int {
	if l.ttl <= 0 {
		return 0
	}
	cutoff := l.now().Add(-l.ttl)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for origin, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, origin)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every TTL until ctx is cancelled
func (l *OriginLimiter) Run(ctx context.Context) {
	if l.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Cleanup(); removed > 0 {
				l.logger.Debug("removed idle rate limiters", "count", removed)
			}
		}
	}
}

// Middleware rejects requests over the limit with 429
func (l *OriginLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := originAddress(r)
		if !l.Allow(origin) {
			l.logger.Info("request throttled", "origin", origin, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, errThrottled)
			return
		}
		next.ServeHTTP(w, r)
	})
}
