package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/codecollab/codecollab/internal/metrics"
)

const (
	// strikes within strikeWindow before an IP is shut out for blockDuration
	strikeLimit   = 10
	strikeWindow  = time.Hour
	blockDuration = 24 * time.Hour
)

// RateLimit is the request budget for routes starting with Prefix.
type RateLimit struct {
	Method   string
	Prefix   string
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Enable auto-blocking after repeated violations
}

// RateLimiter enforces fixed-window budgets per route, counted in Redis.
type RateLimiter struct {
	client    *redis.Client
	logger    zerolog.Logger
	limits    []RateLimit
	exempt    []netip.Prefix
	autoBlock bool
}

// NewRateLimiter creates a new rate limiter. A nil client disables limiting.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:    client,
		logger:    logger,
		autoBlock: cfg.AutoBlockEnabled,
		limits: []RateLimit{
			{http.MethodPost, "/api/register", 10, time.Hour, ipKey},
			{http.MethodPost, "/api/login", 30, time.Minute, ipKey},
			{http.MethodGet, "/api/rooms", 120, time.Minute, tokenOrIPKey},
			{http.MethodGet, "/api/users/", 100, time.Minute, ipKey},
			{http.MethodGet, "/api/stats", 60, time.Minute, ipKey},
			{http.MethodGet, "/ws", 30, time.Minute, ipKey},
		},
	}

	for _, entry := range cfg.Whitelist {
		prefix, err := parseExempt(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("ignoring whitelist entry")
			continue
		}
		rl.exempt = append(rl.exempt, prefix)
	}
	if len(rl.exempt) > 0 {
		logger.Info().Int("entries", len(rl.exempt)).Msg("rate limit whitelist configured")
	}

	return rl
}

// parseExempt accepts a CIDR or a bare address.
func parseExempt(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (rl *RateLimiter) isWhitelisted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.exempt {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ipKey returns rate limit key based on client IP.
func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}

// tokenOrIPKey keys authenticated callers by token digest, others by IP.
func tokenOrIPKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "ratelimit:token:" + hex.EncodeToString(sum[:8])
	}
	return "ratelimit:ip:" + RealIP(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// countHit bumps a window counter, arming its expiry on the first hit.
// It returns the count so far and the time left in the window.
var countHit = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// hit counts one request against key and reports whether it fits in limit.
// A Redis failure lets the request through.
func (rl *RateLimiter) hit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, reset time.Duration) {
	res, err := countHit.Run(ctx, rl.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
		return true, limit, window
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	remaining = limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= limit, remaining, ttl
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.client == nil || rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		log := rl.logger.With().Str("type", "security").Str("ip", ip).Str("endpoint", r.URL.Path).Logger()

		if rl.autoBlock && rl.blocked(r.Context(), ip) {
			log.Warn().Str("event", "blocked_request").Msg("blocked IP attempted request")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, reset := rl.hit(r.Context(), limit.KeyFunc(r), limit.Requests, limit.Window)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(reset).Unix(), 10))

		if !allowed {
			metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()
			log.Warn().Str("event", "rate_limit_exceeded").Msg("rate limit exceeded")
			if rl.autoBlock {
				rl.strike(r.Context(), ip, log)
			}

			w.Header().Set("Retry-After", strconv.Itoa(int(reset.Round(time.Second).Seconds())))
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// findLimit returns the first budget whose method and prefix match.
func (rl *RateLimiter) findLimit(r *http.Request) *RateLimit {
	for i := range rl.limits {
		l := &rl.limits[i]
		if r.Method == l.Method && strings.HasPrefix(r.URL.Path, l.Prefix) {
			return l
		}
	}
	return nil
}

func blockKey(ip string) string  { return "blocked:ip:" + ip }
func strikeKey(ip string) string { return "violations:ip:" + ip }

func (rl *RateLimiter) blocked(ctx context.Context, ip string) bool {
	n, err := rl.client.Exists(ctx, blockKey(ip)).Result()
	return err == nil && n > 0
}

// strike records a violation and blocks the IP once it reaches strikeLimit.
func (rl *RateLimiter) strike(ctx context.Context, ip string, log zerolog.Logger) {
	n, err := countHit.Run(ctx, rl.client, []string{strikeKey(ip)}, strikeWindow.Milliseconds()).Int64Slice()
	if err != nil || len(n) == 0 || n[0] < strikeLimit {
		return
	}
	if err := rl.client.Set(ctx, blockKey(ip), "repeated rate limit violations", blockDuration).Err(); err != nil {
		log.Error().Err(err).Msg("failed to block IP")
		return
	}
	log.Warn().Str("event", "ip_auto_blocked").Int64("violations", n[0]).Msg("IP auto-blocked for repeated violations")
}
