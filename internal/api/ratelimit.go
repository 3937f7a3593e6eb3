package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/usba/internal/identity"
	"github.com/ashureev/usba/internal/telemetry"
	"github.com/ashureev/usba/internal/wizard"
	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per device to AI-backed routes.
// A nil *RateLimiter allows everything.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per device with the given burst.
// It returns nil when perMinute is not positive.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether userID may make another AI request now.
func (l *RateLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	now := l.now()
	v, ok := l.visitors[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[userID] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Prune forgets devices not seen for at least idle and returns how many.
func (l *RateLimiter) Prune(idle time.Duration) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) >= idle {
			delete(l.visitors, id)
			n++
		}
	}
	return n
}

// Middleware rejects requests over the device's limit with 429. Requests
// without a device identity are keyed by remote IP.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := identity.UserIDFromContext(r.Context())
		if key == "" {
			key = identity.IPFromRequest(r)
		}
		if !l.Allow(key) {
			rateLimited(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimited(w http.ResponseWriter) {
	telemetry.RecordRateLimited()
	w.Header().Set("Retry-After", "60")
	Error(w, http.StatusTooManyRequests, wizard.MsgRateLimited)
}
