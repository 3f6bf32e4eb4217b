package server

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a fixed-window request limit per client IP.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time

	lastCleanup time.Time
}

type visitor struct {
	start time.Time
	count int
}

// NewRateLimiter allows limit requests per window. A limit of zero or less disables it.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow counts one request from ip and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) > rl.window {
		rl.cleanup(now)
	}

	v, ok := rl.visitors[ip]
	if !ok || now.Sub(v.start) > rl.window {
		rl.visitors[ip] = &visitor{start: now, count: 1}
		return true
	}
	v.count++
	return v.count <= rl.limit
}

// cleanup drops expired windows. Callers hold rl.mu.
func (rl *RateLimiter) cleanup(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.start) > rl.window {
			delete(rl.visitors, ip)
		}
	}
	rl.lastCleanup = now
}

func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !rl.Allow(ip) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
