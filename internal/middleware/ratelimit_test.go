package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
	"github.com/scholarly-ai/tutor-backend/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_AdmitsUnderBothBuckets(t *testing.T) {
	tenant := ratelimit.New(10, 10).AsKeyLimiter()
	ip := ratelimit.New(10, 10).AsKeyLimiter()
	handler := RateLimit(tenant, ip)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.RemoteAddr = "203.0.113.5:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimit_TenantBucketExhaustionReturns429(t *testing.T) {
	tenant := ratelimit.New(0, 1).AsKeyLimiter()
	ip := ratelimit.New(1000, 1000).AsKeyLimiter()
	handler := RateLimit(tenant, ip)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.RemoteAddr = "203.0.113.5:5000"
	req = req.WithContext(WithTenantID(req.Context(), "tenant-a"))

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec1.Code, http.StatusOK)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rec2.Code, http.StatusTooManyRequests)
	}
	assertErrorKind(t, rec2, apperr.RateLimited)
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header on 429")
	}
}

func TestRateLimit_IPBucketExhaustionReturns429(t *testing.T) {
	tenant := ratelimit.New(1000, 1000).AsKeyLimiter()
	ip := ratelimit.New(0, 1).AsKeyLimiter()
	handler := RateLimit(tenant, ip)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.RemoteAddr = "203.0.113.9:5000"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec1.Code, http.StatusOK)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rec2.Code, http.StatusTooManyRequests)
	}
}

func TestRateLimit_TenantKeysAreIsolated(t *testing.T) {
	tenant := ratelimit.New(0, 1).AsKeyLimiter()
	ip := ratelimit.New(1000, 1000).AsKeyLimiter()
	handler := RateLimit(tenant, ip)(okHandler())

	reqA := httptest.NewRequest(http.MethodPost, "/chat", nil)
	reqA.RemoteAddr = "203.0.113.1:1"
	reqA = reqA.WithContext(WithTenantID(reqA.Context(), "tenant-a"))
	recA := httptest.NewRecorder()
	handler.ServeHTTP(recA, reqA)
	if recA.Code != http.StatusOK {
		t.Fatalf("tenant-a status = %d, want %d", recA.Code, http.StatusOK)
	}

	reqB := httptest.NewRequest(http.MethodPost, "/chat", nil)
	reqB.RemoteAddr = "203.0.113.2:1"
	reqB = reqB.WithContext(WithTenantID(reqB.Context(), "tenant-b"))
	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, reqB)
	if recB.Code != http.StatusOK {
		t.Fatalf("tenant-b status = %d, want %d", recB.Code, http.StatusOK)
	}
}

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := clientIP(req); got != "203.0.113.7" {
		t.Errorf("clientIP = %q, want %q", got, "203.0.113.7")
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:4321"

	if got := clientIP(req); got != "198.51.100.4" {
		t.Errorf("clientIP = %q, want %q", got, "198.51.100.4")
	}
}
