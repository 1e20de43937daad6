package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/api/users/0190c1f2": "/api/users/:id",
		"/api/rooms/list":     "/api/rooms/list",
		"/api/rooms/demo":     "/api/rooms/:name",
		"/health":             "/health",
		"/api/rooms/":         "/api/rooms/",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", RealIP(r))

	r.Header.Set("X-Real-IP", "192.0.2.9")
	assert.Equal(t, "192.0.2.9", RealIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	assert.Equal(t, "198.51.100.1", RealIP(r))
}

func TestRateLimiterWithoutRedisPassesThrough(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/register", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestWhitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"10.0.0.0/8", "127.0.0.1", "bogus/cidr"}})
	assert.True(t, rl.isWhitelisted("10.20.30.40"))
	assert.True(t, rl.isWhitelisted("127.0.0.1"))
	assert.False(t, rl.isWhitelisted("192.0.2.1"))
}

func TestFindLimit(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})

	assert.NotNil(t, rl.findLimit(httptest.NewRequest(http.MethodPost, "/api/login", nil)))
	assert.NotNil(t, rl.findLimit(httptest.NewRequest(http.MethodGet, "/api/rooms/list", nil)))
	assert.Nil(t, rl.findLimit(httptest.NewRequest(http.MethodGet, "/health", nil)))
}

func TestTokenOrIPKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/rooms/list", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "ratelimit:ip:10.1.2.3", tokenOrIPKey(r))

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	key := tokenOrIPKey(r)
	assert.Contains(t, key, "ratelimit:token:")
	assert.NotContains(t, key, "abc")
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		target string
		want   int
	}{
		{"/api/rooms/list", http.StatusOK},
		{"/api/rooms/v1..2", http.StatusOK},
		{"/ws?room=v1..2&token=a.b.c", http.StatusOK},
		{"/api/rooms/../stats", http.StatusBadRequest},
		{"/api//rooms", http.StatusBadRequest},
		{"/ws?room=%3Cscript%3E", http.StatusBadRequest},
		{"/api/users/javascript:alert(1)", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
		assert.Equal(t, tt.want, rec.Code, tt.target)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("email=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func newLimitedHandler(t *testing.T, cfg RateLimiterConfig) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewRateLimiter(client, zerolog.Nop(), cfg)
	return rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})), mr
}

func loginFrom(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.RemoteAddr = ip + ":4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterEnforcesWindow(t *testing.T) {
	h, mr := newLimitedHandler(t, RateLimiterConfig{})

	for i := 0; i < 30; i++ {
		rec := loginFrom(h, "192.0.2.1")
		require.Equal(t, http.StatusNoContent, rec.Code, "request %d", i+1)
	}
	rec := loginFrom(h, "192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// other callers have their own budget
	assert.Equal(t, http.StatusNoContent, loginFrom(h, "192.0.2.2").Code)

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusNoContent, loginFrom(h, "192.0.2.1").Code)
}

func TestRateLimiterAutoBlock(t *testing.T) {
	h, _ := newLimitedHandler(t, RateLimiterConfig{AutoBlockEnabled: true, Whitelist: []string{"198.51.100.0/24"}})

	for i := 0; i < 30+strikeLimit; i++ {
		loginFrom(h, "192.0.2.1")
	}
	assert.Equal(t, http.StatusForbidden, loginFrom(h, "192.0.2.1").Code)

	// whitelisted callers are never counted
	for i := 0; i < 40; i++ {
		require.Equal(t, http.StatusNoContent, loginFrom(h, "198.51.100.7").Code)
	}
}
