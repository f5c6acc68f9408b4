// Package ratelimit implements the per-client rate-limiting
// collaborator (spec.md §1: out of scope for the engine core, present
// as a thin HTTP middleware). Adapted directly from the teacher's
// packages/pkg.go RateLimiter: the per-visitor token-bucket map and
// inactivity sweep are unchanged in shape, generalized to key visitors
// by a caller-supplied identity function instead of hard-coding
// RemoteAddr, so cmd/server can key on the authenticated subject when
// internal/authn has run first.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter grants each visitor its own token bucket.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New builds a Limiter allowing requestsPerMinute sustained throughput
// per visitor with a burst allowance of burst requests.
func New(requestsPerMinute, burst int) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(requestsPerMinute) / 60,
		burst:    burst,
	}
	return l
}

func (l *Limiter) getVisitor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Sweep drops visitors that have been idle longer than maxAge, bounding
// the visitor map's memory regardless of how many distinct clients have
// ever connected. Callers run it on a ticker; it is not started
// automatically so tests can call it deterministically.
func (l *Limiter) Sweep(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}

// Allow reports whether a request identified by key may proceed,
// consuming one token if so.
func (l *Limiter) Allow(key string) bool {
	return l.getVisitor(key).Allow()
}

// Middleware wraps next with per-visitor rate limiting, keying visitors
// by keyFunc(r) — typically the remote address or an authenticated
// subject from internal/authn.
func (l *Limiter) Middleware(keyFunc func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(keyFunc(r)) {
			http.Error(w, "rate limit exceeded, please try again later", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
