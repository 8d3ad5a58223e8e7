package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/digitalforce/flexi/backend/internal/config"
	"github.com/digitalforce/flexi/backend/internal/middleware"
	"github.com/digitalforce/flexi/backend/internal/model/lead"
	"github.com/digitalforce/flexi/backend/internal/service/canned"
	chatService "github.com/digitalforce/flexi/backend/internal/service/chat"
	"github.com/digitalforce/flexi/backend/internal/service/external"
	"github.com/digitalforce/flexi/backend/internal/service/session"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	return newTestRouterWithStorage(t, cfg, nil)
}

func newTestRouterWithStorage(t *testing.T, cfg *config.Config, storage Pinger) http.Handler {
	t.Helper()
	responder, err := canned.Default()
	require.NoError(t, err)

	holder := config.NewHolder(cfg)
	prober := external.NewProber(nil)
	resolver := chatService.NewService(holder, session.NewMemoryStore(), chatService.DefaultStrategies(prober, nil, responder), nil)

	return NewRouter(Dependencies{
		Config:   holder,
		Resolver: resolver,
		Prober:   prober,
		Leads:    lead.NewMemoryStore(),
		Storage:  storage,
		Limiter:  middleware.NewRateLimiter(cfg.RateLimit, clockwork.NewFakeClock(), nil),
	})
}

func baseConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{AllowedOrigins: []string{"*"}},
		Fallback:  config.FallbackConfig{Enabled: true},
		RateLimit: config.RateLimitConfig{Requests: 12, Window: time.Minute},
	}
}

func TestRouterHealth(t *testing.T) {
	r := newTestRouter(t, baseConfig())

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRouterReadiness(t *testing.T) {
	tests := []struct {
		name    string
		storage Pinger
		want    int
	}{
		{name: "memory storage", storage: nil, want: http.StatusOK},
		{name: "reachable storage", storage: stubPinger{}, want: http.StatusOK},
		{name: "unreachable storage", storage: stubPinger{err: errors.New("database is closed")}, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouterWithStorage(t, baseConfig(), tt.storage)
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ready", nil))
			require.Equal(t, tt.want, resp.Code)
		})
	}
}

func TestRouterRateLimitsChat(t *testing.T) {
	r := newTestRouter(t, baseConfig())

	var last *httptest.ResponseRecorder
	for i := 0; i < 13; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"question":"Ciao"}`))
		req.RemoteAddr = "192.0.2.10:1234"
		last = httptest.NewRecorder()
		r.ServeHTTP(last, req)
		if i < 12 {
			require.Equal(t, http.StatusOK, last.Code, "request %d", i)
		}
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)

	// The debug route is not rate limited.
	req := httptest.NewRequest(http.MethodGet, "/api/debug", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRouterGatesChatWithTestToken(t *testing.T) {
	cfg := baseConfig()
	cfg.Access.TestToken = "beta"
	r := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"question":"Ciao"}`))
	req.Header.Set("Origin", "https://elsewhere.example")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Contains(t, resp.Body.String(), "Unauthorized")

	req = httptest.NewRequest(http.MethodGet, "/api/admin/external-preview", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/external-preview?token=beta", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://digitalforcemining.it"})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/ws", nil)
	require.True(t, check(req))

	req.Header.Set("Origin", "https://digitalforcemining.it")
	require.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	require.False(t, check(req))
}

func TestRouterCORS(t *testing.T) {
	cfg := baseConfig()
	cfg.Server.AllowedOrigins = []string{"https://digitalforcemining.it"}
	r := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://digitalforcemining.it")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-TEST-TOKEN")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Less(t, resp.Code, 300)
	require.Equal(t, "https://digitalforcemining.it", resp.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header().Get("Access-Control-Allow-Credentials"))
	require.Contains(t, strings.ToLower(resp.Header().Get("Access-Control-Allow-Headers")), "x-test-token")

	req = httptest.NewRequest(http.MethodGet, "/api/debug", nil)
	req.Header.Set("Origin", "https://other.example")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterCORSWildcardOmitsCredentials(t *testing.T) {
	r := newTestRouter(t, baseConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/debug", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, resp.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRouterRateLimitsAdminConfig(t *testing.T) {
	r := newTestRouter(t, baseConfig())

	var last *httptest.ResponseRecorder
	for i := 0; i < 13; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/config", strings.NewReader(`{"password":"guess"}`))
		req.RemoteAddr = "192.0.2.20:1234"
		last = httptest.NewRecorder()
		r.ServeHTTP(last, req)
		if i < 12 {
			require.NotEqual(t, http.StatusTooManyRequests, last.Code, "request %d", i)
		}
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
}
