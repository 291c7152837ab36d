package handler

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"docvault/internal/auth"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleTimeout     = 10 * time.Minute
)

// userRateLimiter хранит ограничитель запросов для каждого пользователя
type userRateLimiter struct {
	mu                sync.Mutex
	limiters          map[string]*limiterInfo
	requestsPerMinute int
	burst             int
	lastCleanup       time.Time
	now               func() time.Time
}

type limiterInfo struct {
	limiter      *rate.Limiter
	lastAccessed time.Time
}

func newUserRateLimiter(requestsPerMinute, burst int) *userRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &userRateLimiter{
		limiters:          make(map[string]*limiterInfo),
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		lastCleanup:       time.Now(),
		now:               time.Now,
	}
}

func (l *userRateLimiter) getLimiter(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > limiterCleanupInterval {
		for id, info := range l.limiters {
			if now.Sub(info.lastAccessed) > limiterIdleTimeout {
				delete(l.limiters, id)
			}
		}
		l.lastCleanup = now
	}

	info, ok := l.limiters[userID]
	if !ok {
		info = &limiterInfo{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.requestsPerMinute)), l.burst),
		}
		l.limiters[userID] = info
	}
	info.lastAccessed = now
	return info.limiter
}

func (l *userRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// RateLimit ограничивает частоту запросов пользователя; ставится после auth.Middleware.
// requestsPerMinute <= 0 отключает ограничение.
func RateLimit(requestsPerMinute, burst int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newUserRateLimiter(requestsPerMinute, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.getLimiter(auth.UserID(r.Context())).Allow() {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
