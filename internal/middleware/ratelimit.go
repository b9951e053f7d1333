package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
	"github.com/scholarly-ai/tutor-backend/internal/ratelimit"
)

// RateLimit returns middleware enforcing §4.7's two independent token
// buckets: one keyed by source IP, one keyed by the tenant id ResolveTenant
// verified (the source IP stands in when there is none). The IP bucket is
// checked first; a request is denied by the first exhausted bucket, and
// the response carries that bucket's retry_after. A limiter error admits
// the request.
func RateLimit(tenantLimiter, ipLimiter ratelimit.KeyLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)

			ipOK, ipRetry, err := ipLimiter.Allow(ctx, ip, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !ipOK {
				writeRateLimited(w, ipRetry)
				return
			}

			tenantKey, verified := TenantIDFromContext(ctx)
			if !verified {
				tenantKey = ip
			}
			tenantOK, tenantRetry, err := tenantLimiter.Allow(ctx, tenantKey, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !tenantOK {
				writeRateLimited(w, tenantRetry)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	WriteError(w, apperr.New(apperr.RateLimited, "rate limit exceeded").WithRetryAfter(retryAfter))
}

// clientIP extracts the request's source IP, preferring the first hop of
// X-Forwarded-For when present (set by a trusted reverse proxy in front of
// this service) and falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
