// Package ratelimit applies a per-client-IP token bucket in front of the
// HTTP surface. Payment gating is the real admission control; this layer
// only shields the verification path from being hammered for free.
package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"qguard/internal/platform/middleware"
	"qguard/pkg/httputil"
)

const (
	// CodeRateLimited is the machine-readable error code on 429 responses.
	CodeRateLimited = "RATE_LIMITED"

	visitorIdleTTL  = 10 * time.Minute
	janitorInterval = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per client IP. Idle buckets are pruned
// by a background janitor so the map stays bounded.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	log      *slog.Logger

	stop      chan struct{}
	closeOnce sync.Once
}

// New builds a limiter allowing perSecond sustained requests per IP with the
// given burst. Call Close to stop the janitor.
func New(perSecond float64, burst int, log *slog.Logger) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		log:      log,
		stop:     make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Allow reports whether a request from ip may proceed now.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()

	return v.limiter.Allow()
}

// Middleware rejects over-limit requests with 429 and the standard error
// envelope.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := middleware.ClientIP(r)
		if !l.Allow(ip) {
			l.log.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			httputil.WriteError(w, r, http.StatusTooManyRequests, CodeRateLimited,
				"too many requests from this address", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops the background janitor. Outstanding buckets remain usable.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.prune(time.Now().Add(-visitorIdleTTL))
		}
	}
}

func (l *Limiter) prune(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
		}
	}
}

func (l *Limiter) retryAfterSeconds() int {
	if l.rate <= 0 {
		return 60
	}
	s := int(1 / float64(l.rate))
	if s < 1 {
		s = 1
	}
	return s
}
