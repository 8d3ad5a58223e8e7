package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/digitalforce/flexi/backend/internal/config"
	"github.com/digitalforce/flexi/backend/internal/identity"
	"github.com/digitalforce/flexi/backend/internal/logging"
	"github.com/digitalforce/flexi/backend/internal/metrics"
	"github.com/digitalforce/flexi/backend/pkg/utils"
)

// RateLimitMessage is the error body sent to callers over the limit.
const RateLimitMessage = "Too many requests, please try again later."

type window struct {
	count   int
	resetAt time.Time
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
}

// RateLimiter applies a fixed request window per client address. Windows are
// kept in a TTL cache so idle addresses are evicted.
type RateLimiter struct {
	limit  int
	window time.Duration
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	windows *ttlcache.Cache[string, *window]
}

// NewRateLimiter creates a limiter from cfg. Call Start to run cache eviction.
func NewRateLimiter(cfg config.RateLimitConfig, clock clockwork.Clock, logger *slog.Logger) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		limit:  cfg.Requests,
		window: cfg.Window,
		clock:  clock,
		logger: logging.OrDefault(logger),
		windows: ttlcache.New(
			ttlcache.WithTTL[string, *window](cfg.Window),
			ttlcache.WithDisableTouchOnHit[string, *window](),
		),
	}
}

// Start runs expired-window eviction until Stop is called.
func (l *RateLimiter) Start() {
	go l.windows.Start()
}

// Stop ends eviction.
func (l *RateLimiter) Stop() {
	l.windows.Stop()
}

// Allow counts one request for key.
func (l *RateLimiter) Allow(key string) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	var win *window
	if item := l.windows.Get(key); item != nil {
		win = item.Value()
	}
	if win == nil || !now.Before(win.resetAt) {
		win = &window{resetAt: now.Add(l.window)}
		l.windows.Set(key, win, l.window)
	}
	win.count++

	remaining := l.limit - win.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   win.count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     win.resetAt.Sub(now),
	}
}

// Middleware rejects callers over the limit with 429 and reports the window
// in RateLimit-* headers.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	policy := fmt.Sprintf("%d;w=%d", l.limit, int(l.window.Seconds()))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := identity.ClientIP(r)
		d := l.Allow(ip)
		reset := strconv.Itoa(int(math.Ceil(d.Reset.Seconds())))

		h := w.Header()
		h.Set("RateLimit-Policy", policy)
		h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("RateLimit-Reset", reset)

		if !d.Allowed {
			metrics.RateLimitRejections.Inc()
			l.logger.Warn("[ratelimit] rejected", "ip", ip, "path", r.URL.Path)
			h.Set("Retry-After", reset)
			utils.RespondError(w, http.StatusTooManyRequests, RateLimitMessage)
			return
		}

		next.ServeHTTP(w, r)
	})
}
