package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
)

func assertErrorKind(t *testing.T, rec *httptest.ResponseRecorder, want apperr.Kind) {
	t.Helper()
	var body errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if body.Error.Kind != want {
		t.Errorf("error kind = %q, want %q", body.Error.Kind, want)
	}
}
