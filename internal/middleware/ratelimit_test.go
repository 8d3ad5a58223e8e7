package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/digitalforce/flexi/backend/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterFixedWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewRateLimiter(config.RateLimitConfig{Requests: 3, Window: time.Minute}, clock, nil)

	for i := 0; i < 3; i++ {
		d := limiter.Allow("203.0.113.1")
		require.True(t, d.Allowed)
		require.Equal(t, 2-i, d.Remaining)
	}

	d := limiter.Allow("203.0.113.1")
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.Equal(t, time.Minute, d.Reset)

	// Other addresses have their own window.
	require.True(t, limiter.Allow("203.0.113.2").Allowed)

	clock.Advance(59 * time.Second)
	require.False(t, limiter.Allow("203.0.113.1").Allowed)

	clock.Advance(time.Second)
	d = limiter.Allow("203.0.113.1")
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
}

func TestRateLimiterMiddleware(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewRateLimiter(config.RateLimitConfig{Requests: 12, Window: time.Minute}, clock, nil)
	h := limiter.Middleware(okHandler())

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "198.51.100.4:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 12; i++ {
		rec := call()
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := call()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "12;w=60", rec.Header().Get("RateLimit-Policy"))
	require.Equal(t, "12", rec.Header().Get("RateLimit-Limit"))
	require.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
	require.JSONEq(t, `{"error":"Too many requests, please try again later."}`, rec.Body.String())

	clock.Advance(time.Minute)
	require.Equal(t, http.StatusOK, call().Code)
}
