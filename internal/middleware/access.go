// Package middleware provides the HTTP middleware of the Flexi API.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/digitalforce/flexi/backend/internal/config"
	"github.com/digitalforce/flexi/backend/internal/logging"
	"github.com/digitalforce/flexi/backend/internal/metrics"
	"github.com/digitalforce/flexi/backend/pkg/utils"
)

// TestTokenHeader carries the beta tester token.
const TestTokenHeader = "X-TEST-TOKEN"

const unauthorizedMessage = "Unauthorized - missing or invalid TEST_TOKEN"

// TestToken guards routes with the TEST_TOKEN shared secret when it is set.
// Same-origin requests from the widget page pass without a token.
func TestToken(holder *config.Holder, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logging.OrDefault(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := holder.Current().Access.TestToken
			if expected == "" || SameOrigin(r) || TokenMatches(r, expected) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.AccessDenied.WithLabelValues("test_token").Inc()
			logger.Warn("[access] rejected test token", "path", r.URL.Path, "origin", r.Header.Get("Origin"))
			utils.RespondError(w, http.StatusUnauthorized, unauthorizedMessage)
		})
	}
}

// TokenMatches reports whether the request presents expected in the
// X-TEST-TOKEN header or the token query parameter.
func TokenMatches(r *http.Request, expected string) bool {
	token := r.Header.Get(TestTokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// SameOrigin reports whether the request comes from a page served by this host.
func SameOrigin(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Site") == "same-origin" {
		return true
	}

	source := r.Header.Get("Origin")
	if source == "" {
		source = r.Header.Get("Referer")
	}
	if source == "" || source == "null" {
		return false
	}

	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Host == r.Host
}

// SameOriginOrToken admits same-origin requests and requests carrying a valid
// TEST_TOKEN. Unlike TestToken it stays closed while no token is configured.
func SameOriginOrToken(holder *config.Holder, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logging.OrDefault(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := holder.Current().Access.TestToken
			if SameOrigin(r) || (expected != "" && TokenMatches(r, expected)) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.AccessDenied.WithLabelValues("same_origin").Inc()
			logger.Warn("[access] rejected diagnostics request", "path", r.URL.Path, "origin", r.Header.Get("Origin"))
			utils.RespondError(w, http.StatusUnauthorized, unauthorizedMessage)
		})
	}
}
