package api

import (
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig sets the per-client token bucket shared by every API request.
type RateLimitConfig struct {
	RequestsPerSecond float64 // refill rate per client IP
	Burst             int     // bucket size

	// CellsPerToken bills sampling requests by size: every CellsPerToken
	// grid cells cost one token on top of the request itself.
	CellsPerToken int

	// IdleTimeout drops a client's bucket after this long without requests.
	IdleTimeout time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 10,
	Burst:             20,
	CellsPerToken:     10000,
	IdleTimeout:       10 * time.Minute,
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP. Idle buckets are swept
// inline at most once per IdleTimeout, so the limiter owns no goroutine.
type IPRateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu        sync.Mutex
	buckets   map[string]*clientBucket
	lastSweep time.Time
}

// NewIPRateLimiter fills zero fields of cfg from DefaultRateLimitConfig.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.CellsPerToken <= 0 {
		cfg.CellsPerToken = DefaultRateLimitConfig.CellsPerToken
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultRateLimitConfig.IdleTimeout
	}
	return &IPRateLimiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*clientBucket),
	}
}

func (rl *IPRateLimiter) bucket(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.cfg.IdleTimeout {
		for key, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.cfg.IdleTimeout {
				delete(rl.buckets, key)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (rl *IPRateLimiter) take(ip string, n int) bool {
	now := rl.now()
	if rl.bucket(ip, now).AllowN(now, n) {
		return true
	}
	RecordConnectionRejected("rate_limit")
	return false
}

// ChargeCells bills a sampling request for its grid size, on top of the
// token the middleware already took. The charge is capped at the burst so
// any request within Limits can eventually be served.
func (rl *IPRateLimiter) ChargeCells(r *http.Request, cells int) bool {
	n := min(cells/rl.cfg.CellsPerToken, rl.cfg.Burst)
	return n <= 0 || rl.take(ClientIP(r), n)
}

// Middleware takes one token per request.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.take(ClientIP(r), 1) {
			tooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *IPRateLimiter) clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeError(w, "Too Many Requests", http.StatusTooManyRequests)
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address. The headers are trusted: run behind a proxy that sets them.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// connLimiter caps concurrent websocket connections per IP.
type connLimiter struct {
	mu    sync.Mutex
	max   int
	perIP map[string]int
}

func newConnLimiter(maxPerIP int) *connLimiter {
	return &connLimiter{max: maxPerIP, perIP: make(map[string]int)}
}

func (c *connLimiter) acquire(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.perIP[ip] >= c.max {
		return false
	}
	c.perIP[ip]++
	return true
}

func (c *connLimiter) release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.perIP[ip] - 1; n > 0 {
		c.perIP[ip] = n
	} else {
		delete(c.perIP, ip)
	}
}

func (c *connLimiter) count(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perIP[ip]
}

// AllowedOrigins lists origins accepted for websocket upgrades in addition
// to loopback hosts on any port.
var AllowedOrigins []string

// IsAllowedOrigin reports whether a websocket upgrade from origin is accepted.
// Non-browser clients send no Origin and are allowed.
func IsAllowedOrigin(origin string) bool {
	if origin == "" || slices.Contains(AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
