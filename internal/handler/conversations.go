package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
	"github.com/scholarly-ai/tutor-backend/internal/middleware"
	"github.com/scholarly-ai/tutor-backend/internal/model"
)

const (
	defaultConversationsLimit = 50
	maxConversationsLimit     = 200
)

// TurnLister is the Persistence contract's list_turns surface.
type TurnLister interface {
	List(ctx context.Context, tenantID string, limit int) ([]model.ConversationTurn, error)
}

// Conversations implements GET /conversations/{tenant_id}: returns the
// tenant's persisted conversation turns, most recent first, per §6.
func Conversations(turns TurnLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathTenantID := chi.URLParam(r, "tenant_id")
		tenantID, err := middleware.ResolveRequestTenant(r.Context(), pathTenantID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		limit := defaultConversationsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				middleware.WriteError(w, apperr.New(apperr.InputInvalid, "limit must be a positive integer"))
				return
			}
			limit = n
		}
		if limit > maxConversationsLimit {
			limit = maxConversationsLimit
		}

		list, err := turns.List(r.Context(), tenantID, limit)
		if err != nil {
			middleware.WriteError(w, apperr.Wrap(apperr.Internal, "failed to list conversations", err))
			return
		}
		if list == nil {
			list = []model.ConversationTurn{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{"conversations": list})
	}
}
