package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
)

// errorEnvelope is the wire shape every error response uses, per §6:
// {"error":{"kind":...,"message":...,"retry_after"?:...}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind       apperr.Kind `json:"kind"`
	Message    string      `json:"message"`
	RetryAfter int         `json:"retry_after,omitempty"`
}

// writeError writes the standard error envelope with the status apperr maps
// kind to. Shared by middleware and handlers so every surface responds with
// the same shape.
func writeError(w http.ResponseWriter, kind apperr.Kind, message string) {
	WriteError(w, apperr.New(kind, message))
}

// WriteError writes err's taxonomy-mapped status and envelope. Non-taxonomy
// errors are reported as Internal.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Wrap(apperr.Internal, "internal error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	w.WriteHeader(apperr.HTTPStatus(appErr.Kind))
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Kind:       appErr.Kind,
		Message:    appErr.Message,
		RetryAfter: appErr.RetryAfter,
	}})
}
