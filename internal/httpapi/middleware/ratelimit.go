package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long an unused per-client limiter is kept.
const idleTTL = 10 * time.Minute

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type limiter struct {
	limit rate.Limit
	burst int
	mu    sync.Mutex
	m     map[string]*visitor
	sweep time.Time
	now   func() time.Time
}

func newLimiter(limit rate.Limit, burst int) *limiter {
	return &limiter{limit: limit, burst: burst, m: make(map[string]*visitor), now: time.Now}
}

func (l *limiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.sweep) > idleTTL {
		for k, v := range l.m {
			if now.Sub(v.lastSeen) > idleTTL {
				delete(l.m, k)
			}
		}
		l.sweep = now
	}
	v := l.m[key]
	if v == nil {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.m[key] = v
	}
	v.lastSeen = now
	return v.lim.AllowN(now, 1)
}

// RateLimit returns a middleware that rate-limits by remote IP.
// Example: RateLimit(120, 60) => 120 req/min with burst 60
func RateLimit(reqPerMin int, burst int) func(http.Handler) http.Handler {
	if reqPerMin <= 0 {
		// disabled
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	l := newLimiter(rate.Every(time.Minute/time.Duration(reqPerMin)), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, ErrorBody{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	// honor X-Forwarded-For if behind a proxy
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
