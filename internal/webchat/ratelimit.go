package webchat

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPRateLimiter gives each source IP its own token bucket, capacity 5 per
// 60s per spec §4.10's token-generation rate limit.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewIPRateLimiter builds a limiter with the given per-IP rate and burst.
func NewIPRateLimiter(every time.Duration, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: map[string]*rate.Limiter{},
		rps:      rate.Every(every),
		burst:    burst,
	}
}

// NewTokenGenerationLimiter builds the spec §4.10 default: capacity 5 per 60s.
func NewTokenGenerationLimiter() *IPRateLimiter {
	return NewIPRateLimiter(60*time.Second/5, 5)
}

func (l *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// Allow reports whether a request from ip may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.limiterFor(ip).Allow()
}

// sourceIP extracts the request's source IP, preferring the socket address
// over any forwarding header (this server is not expected to sit behind a
// trusted proxy by default).
func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
