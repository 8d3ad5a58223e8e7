// Package identity ties requests to an anonymous chat session through a cookie.
package identity

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"
)

// CookieName is the cookie carrying the session id.
const CookieName = "sessionId"

type ctxKey struct{}

// Middleware ensures every request carries a session id. A missing or
// malformed cookie is replaced by a fresh UUID sent back with Set-Cookie.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := fromCookie(r)
		if !ok {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id)))
	})
}

func fromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	parsed, err := uuid.Parse(cookie.Value)
	if err != nil || parsed.String() != cookie.Value {
		return "", false
	}
	return cookie.Value, true
}

// WithSessionID returns a copy of ctx carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// SessionIDFromContext returns the session id set by Middleware, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ClientIP returns the caller address without port. RemoteAddr is expected to
// have been rewritten by chi's RealIP middleware when behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
