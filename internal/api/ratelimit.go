package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const bucketIdleTTL = 5 * time.Minute

type bucket struct {
	tokens *rate.Limiter
	seen   time.Time
}

// submitLimiter keeps one token bucket per client address. Idle buckets are
// swept on the next call once bucketIdleTTL has passed since the last sweep,
// so no background goroutine outlives the middleware.
type submitLimiter struct {
	perSecond rate.Limit
	burst     int
	now       func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newSubmitLimiter(rps int, now func() time.Time) *submitLimiter {
	return &submitLimiter{
		perSecond: rate.Limit(rps),
		burst:     rps,
		now:       now,
		buckets:   make(map[string]*bucket),
		lastSweep: now(),
	}
}

func (l *submitLimiter) take(addr string) bool {
	t := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if t.Sub(l.lastSweep) >= bucketIdleTTL {
		for k, b := range l.buckets {
			if t.Sub(b.seen) >= bucketIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = t
	}

	b := l.buckets[addr]
	if b == nil {
		b = &bucket{tokens: rate.NewLimiter(l.perSecond, l.burst)}
		l.buckets[addr] = b
	}
	b.seen = t
	return b.tokens.AllowN(t, 1)
}

func (l *submitLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit caps each client at rps submissions per second, with a burst of
// rps. Lookups and health routes pass through untouched. rps <= 0 disables it.
func RateLimit(rps int) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return limitSubmissions(newSubmitLimiter(rps, time.Now))
}

func limitSubmissions(l *submitLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isEnqueue(r) && !l.take(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isEnqueue(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost:
		return r.URL.Path == "/api/v1/jobs"
	case http.MethodGet:
		return r.URL.Path == "/process" || strings.HasPrefix(r.URL.Path, "/enqueue/")
	}
	return false
}

// clientIP prefers the left-most X-Forwarded-For entry, then the host part
// of RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
