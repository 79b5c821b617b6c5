package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/strideworks/stride/internal/log"
)

// ownerHeader carries the caller's identity. Authentication happens
// upstream; the header is trusted here.
const ownerHeader = "X-Owner-ID"

type contextKey string

const ownerKey contextKey = "owner"

// ownerFromContext returns the owner ID the middleware extracted.
func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}

// ownerMiddleware requires X-Owner-ID on /api/ routes and stores it in
// the request context. Probe endpoints pass through.
func ownerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		owner := r.Header.Get(ownerHeader)
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing "+ownerHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
	})
}

// ownerLimiter hands out one token bucket per owner.
type ownerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newOwnerLimiter(perSecond float64, burst int) *ownerLimiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &ownerLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *ownerLimiter) allow(owner string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[owner]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[owner] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// rateLimitMiddleware throttles each owner independently. Requests
// without an owner (probes) are not limited.
func rateLimitMiddleware(limiter *ownerLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := ownerFromContext(r.Context())
			if owner != "" && !limiter.allow(owner) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs every request with method, path, and duration.
func loggingMiddleware(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start))
		})
	}
}

// recoveryMiddleware turns panics into 500s.
func recoveryMiddleware(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middleware in order: first middleware wraps outermost.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
