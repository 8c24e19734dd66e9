package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	sweepInterval = 5 * time.Minute
	idleEviction  = 10 * time.Minute
)

// RateLimiter applies a token bucket per client address. Buckets refill at
// rate tokens per second up to burst, and idle buckets are swept on the next
// request rather than by a background goroutine, so constructing a limiter
// per route group costs nothing.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64
	burst     float64
	now       func() time.Time
	nextSweep time.Time
}

type bucket struct {
	level float64
	seen  time.Time
}

// NewRateLimiter creates a limiter allowing rate requests/sec with the given
// burst per client address.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Allow reports whether a request from addr fits the limit, consuming one
// token when it does.
func (rl *RateLimiter) Allow(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	b, ok := rl.buckets[addr]
	if !ok {
		b = &bucket{level: rl.burst, seen: now}
		rl.buckets[addr] = b
	} else {
		b.level += now.Sub(b.seen).Seconds() * rl.rate
		if b.level > rl.burst {
			b.level = rl.burst
		}
		b.seen = now
	}

	if b.level < 1 {
		return false
	}
	b.level--
	return true
}

// sweepLocked drops buckets idle long enough to have fully refilled, keeping
// the map bounded by the set of recently active callers.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Before(rl.nextSweep) {
		return
	}
	rl.nextSweep = now.Add(sweepInterval)
	for addr, b := range rl.buckets {
		if now.Sub(b.seen) > idleEviction {
			delete(rl.buckets, addr)
		}
	}
}

// RateLimit rejects requests beyond the configured rate with a JSON 429 and
// a Retry-After hint sized to the refill rate.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	retryAfter := "1"
	if rate > 0 && rate < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / rate)))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientAddr(r)) {
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr prefers the X-Real-Ip set by chi's RealIP middleware, then the
// host part of RemoteAddr so one client is one bucket regardless of source
// port.
func clientAddr(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
