package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"unicode"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
)

type contextKey string

const tenantIDKey contextKey = "tenantID"
const anonymousDemoKey contextKey = "anonymousDemoAllowed"

// TenantIDFromContext retrieves the verified tenant id set by ResolveTenant,
// if any. A request with no verified identity (anonymous demo mode) returns
// ("", false) — callers must fall back to a caller-supplied tenant_id
// themselves, per §4.10 step 1.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	tid, ok := ctx.Value(tenantIDKey).(string)
	return tid, ok
}

// WithTenantID returns a new context carrying a verified tenant id. Useful
// for testing handlers that depend on ResolveTenant having run.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func anonymousDemoAllowed(ctx context.Context) bool {
	allowed, _ := ctx.Value(anonymousDemoKey).(bool)
	return allowed
}

// ResolveTenant returns middleware that extracts a verified tenant id from
// an upstream-authenticated request. The core never performs session
// verification itself (§1: auth is an out-of-scope collaborator) — it
// trusts a paired internal-auth secret plus an X-Tenant-ID header, standing
// in for "a request a verified auth layer has already attached a tenant id
// to". When that pairing is absent and allowAnonymousDemo is true, the
// request proceeds unauthenticated; ResolveRequestTenant then requires a
// caller-supplied tenant_id. When absent and demo mode is off, the request
// is rejected.
func ResolveTenant(internalAuthSecret string, allowAnonymousDemo bool) func(http.Handler) http.Handler {
	secretBytes := []byte(internalAuthSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Internal-Auth")
			tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))

			if token != "" && len(secretBytes) > 0 {
				if subtle.ConstantTimeCompare([]byte(token), secretBytes) != 1 {
					writeError(w, apperr.Unauthenticated, "invalid internal auth token")
					return
				}
				if tenantID == "" || len(tenantID) > 256 || !isPrintableASCII(tenantID) {
					writeError(w, apperr.InputInvalid, "invalid tenant id")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
				return
			}

			if !allowAnonymousDemo {
				writeError(w, apperr.Unauthenticated, "missing verified identity")
				return
			}
			ctx := context.WithValue(r.Context(), anonymousDemoKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ResolveRequestTenant reconciles the verified tenant id (if any) in ctx
// against a tenant id the caller supplied in the request body/path/query,
// per §4.10 step 1 and §6's 403 "cross-tenant attempt" error. callerTenantID
// may be empty (e.g. an authenticated request that omits the redundant
// field).
func ResolveRequestTenant(ctx context.Context, callerTenantID string) (string, error) {
	verified, ok := TenantIDFromContext(ctx)
	if ok {
		if callerTenantID != "" && callerTenantID != verified {
			return "", apperr.New(apperr.ForbiddenTenant, "tenant_id does not match the authenticated identity")
		}
		return verified, nil
	}

	if !anonymousDemoAllowed(ctx) {
		return "", apperr.New(apperr.Unauthenticated, "no verified identity for this request")
	}
	if callerTenantID == "" {
		return "", apperr.New(apperr.InputInvalid, "tenant_id is required in anonymous demo mode")
	}
	if len(callerTenantID) > 256 || !isPrintableASCII(callerTenantID) {
		return "", apperr.New(apperr.InputInvalid, "invalid tenant_id")
	}
	return callerTenantID, nil
}

// isPrintableASCII checks that every rune is a printable ASCII character.
func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
