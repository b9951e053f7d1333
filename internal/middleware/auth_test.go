package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
)

func newTenantEchoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid, _ := TenantIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"tenant_id": tid})
	})
}

func TestResolveTenant_ValidInternalAuthSetsTenant(t *testing.T) {
	handler := ResolveTenant("shared-secret", false)(newTenantEchoHandler())

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set("X-Internal-Auth", "shared-secret")
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["tenant_id"] != "tenant-a" {
		t.Errorf("tenant_id = %q, want %q", body["tenant_id"], "tenant-a")
	}
}

func TestResolveTenant_WrongInternalAuthRejected(t *testing.T) {
	handler := ResolveTenant("shared-secret", false)(newTenantEchoHandler())

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set("X-Internal-Auth", "wrong-secret")
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	assertErrorKind(t, rec, apperr.Unauthenticated)
}

func TestResolveTenant_MissingTenantHeaderRejected(t *testing.T) {
	handler := ResolveTenant("shared-secret", false)(newTenantEchoHandler())

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set("X-Internal-Auth", "shared-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	assertErrorKind(t, rec, apperr.InputInvalid)
}

func TestResolveTenant_NoIdentityRejectedWhenDemoDisallowed(t *testing.T) {
	handler := ResolveTenant("shared-secret", false)(newTenantEchoHandler())

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestResolveTenant_NoIdentityPassesThroughWhenDemoAllowed(t *testing.T) {
	handler := ResolveTenant("shared-secret", true)(newTenantEchoHandler())

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["tenant_id"] != "" {
		t.Errorf("expected no verified tenant id, got %q", body["tenant_id"])
	}
}

func TestResolveRequestTenant_VerifiedIdentityWins(t *testing.T) {
	ctx := WithTenantID(contextWithDemo(false), "tenant-a")
	tid, err := ResolveRequestTenant(ctx, "")
	if err != nil {
		t.Fatalf("ResolveRequestTenant: %v", err)
	}
	if tid != "tenant-a" {
		t.Errorf("tenant = %q, want %q", tid, "tenant-a")
	}
}

func TestResolveRequestTenant_MismatchedCallerTenantForbidden(t *testing.T) {
	ctx := WithTenantID(contextWithDemo(false), "tenant-a")
	_, err := ResolveRequestTenant(ctx, "tenant-b")
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.ForbiddenTenant {
		t.Fatalf("expected ForbiddenTenant, got %v", err)
	}
}

func TestResolveRequestTenant_AnonymousDemoUsesCallerValue(t *testing.T) {
	ctx := contextWithDemo(true)
	tid, err := ResolveRequestTenant(ctx, "tenant-c")
	if err != nil {
		t.Fatalf("ResolveRequestTenant: %v", err)
	}
	if tid != "tenant-c" {
		t.Errorf("tenant = %q, want %q", tid, "tenant-c")
	}
}

func TestResolveRequestTenant_AnonymousDemoRequiresCallerValue(t *testing.T) {
	ctx := contextWithDemo(true)
	_, err := ResolveRequestTenant(ctx, "")
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.InputInvalid {
		t.Fatalf("expected InputInvalid, got %v", err)
	}
}

func TestResolveRequestTenant_NoIdentityNoDemoUnauthenticated(t *testing.T) {
	_, err := ResolveRequestTenant(contextWithDemo(false), "tenant-c")
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestIsPrintableASCII(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"tenant-a", true},
		{"tenant_123", true},
		{"tenant\x00null", false},
		{"tenantéaccent", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isPrintableASCII(tt.in) && tt.in != ""; got != tt.want {
			t.Errorf("isPrintableASCII(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func contextWithDemo(allowed bool) context.Context {
	return context.WithValue(context.Background(), anonymousDemoKey, allowed)
}
