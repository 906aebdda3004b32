package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/ratelimit"
)

// KeyFunc picks the subject a request is counted against.
type KeyFunc func(r *http.Request) string

// ByClientIP counts requests per client address.
func ByClientIP(r *http.Request) string { return ClientIP(r) }

// ByPrincipal counts requests per user, falling back to the client address.
func ByPrincipal(r *http.Request) string {
	if p := PrincipalFromCtx(r.Context()); p != nil {
		return p.UserID.String() + ":" + p.Email
	}
	return ClientIP(r)
}

// RateLimit answers 429 with Retry-After once the rule is exhausted.
func RateLimit(l *ratelimit.Limiter, rule ratelimit.Rule, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(r.Context(), rule, key(r))
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter(nowFn())))
				apperr.Write(w, r, nil, apperr.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// nowFn is the clock used for Retry-After. Tests can replace it.
var nowFn = time.Now

// ClientIP returns the first X-Forwarded-For hop, else the remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
