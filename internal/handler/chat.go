package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/scholarly-ai/tutor-backend/internal/agent"
	"github.com/scholarly-ai/tutor-backend/internal/apperr"
	"github.com/scholarly-ai/tutor-backend/internal/memory"
	"github.com/scholarly-ai/tutor-backend/internal/middleware"
	"github.com/scholarly-ai/tutor-backend/internal/model"
	"github.com/scholarly-ai/tutor-backend/internal/semcache"
)

// TurnStore is the persistence contract's conversation-turn surface, used
// to record a turn after the agent has produced it. Best-effort: a
// failure here is logged and never surfaces to the caller (§4.10 step 6).
type TurnStore interface {
	Insert(ctx context.Context, turn *model.ConversationTurn) error
}

// ChatDeps bundles the Query Endpoint Layer's collaborators.
type ChatDeps struct {
	Agent    *agent.Agent
	Memories *memory.Registry
	Cache    *semcache.Cache
	Turns    TurnStore
	Metrics  *middleware.Metrics
}

// maxMessageLength bounds the user-supplied message before any cache probe
// or upstream call is attempted, per §8's oversized-input boundary case.
const maxMessageLength = 8000

// chatRequest is the shared request body for /chat and /chat/stream.
type chatRequest struct {
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

func decodeChatRequest(r *http.Request) (chatRequest, error) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, apperr.New(apperr.InputInvalid, "invalid request body")
	}
	if req.Message == "" {
		return req, apperr.New(apperr.InputInvalid, "message is required")
	}
	if len(req.Message) > maxMessageLength {
		return req, apperr.New(apperr.InputInvalid, "message exceeds maximum length")
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	return req, nil
}

type chatResponseBody struct {
	Response           string           `json:"response"`
	Sources            []model.Citation `json:"sources"`
	Confidence         float64          `json:"confidence"`
	ShouldEscalate     bool             `json:"should_escalate"`
	HallucinationFlags []string         `json:"hallucination_flags,omitempty"`
	ConversationID     string           `json:"conversation_id"`
}

// Chat implements the buffered POST /chat endpoint: §4.10's full
// resolve-tenant -> rate-limit (middleware) -> cache-probe -> memory-bind
// -> agent -> persist -> cache-store pipeline.
func Chat(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeChatRequest(r)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		tenantID, err := middleware.ResolveRequestTenant(r.Context(), req.TenantID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		if deps.Cache != nil {
			if entry, hit, cacheErr := deps.Cache.Lookup(r.Context(), tenantID, req.Message); cacheErr == nil && hit {
				if deps.Metrics != nil {
					deps.Metrics.IncrementCacheHit()
				}
				writeChatResponse(w, chatResponseBody{
					Response:       entry.Response,
					Sources:        entry.Sources,
					Confidence:     entry.Confidence,
					ConversationID: req.ConversationID,
				})
				return
			} else if deps.Metrics != nil {
				deps.Metrics.IncrementCacheMiss()
			}
		}

		mem := deps.Memories.Get(tenantID, req.ConversationID)
		resp, err := deps.Agent.Run(r.Context(), tenantID, req.Message, mem)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		persistTurnAndCache(context.WithoutCancel(r.Context()), deps, tenantID, req, resp)

		writeChatResponse(w, chatResponseBody{
			Response:           resp.Text,
			Sources:            resp.Sources,
			Confidence:         resp.Confidence,
			ShouldEscalate:     resp.ShouldEscalate,
			HallucinationFlags: resp.HallucinationFlags,
			ConversationID:     req.ConversationID,
		})
	}
}

// ChatStream implements the SSE POST /chat/stream endpoint: repeated
// {"type":"token",...} events followed by exactly one {"type":"done",...}
// or {"type":"error",...} event, per §6.
func ChatStream(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeChatRequest(r)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		tenantID, err := middleware.ResolveRequestTenant(r.Context(), req.TenantID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			middleware.WriteError(w, apperr.New(apperr.Internal, "streaming not supported"))
			return
		}

		if deps.Cache != nil {
			if entry, hit, cacheErr := deps.Cache.Lookup(r.Context(), tenantID, req.Message); cacheErr == nil && hit {
				if deps.Metrics != nil {
					deps.Metrics.IncrementCacheHit()
				}
				startSSE(w)
				sendSSEToken(w, flusher, entry.Response)
				sendSSEDone(w, flusher, chatResponseBody{Response: entry.Response, Sources: entry.Sources, Confidence: entry.Confidence, ConversationID: req.ConversationID})
				return
			} else if deps.Metrics != nil {
				deps.Metrics.IncrementCacheMiss()
			}
		}

		mem := deps.Memories.Get(tenantID, req.ConversationID)
		events := deps.Agent.RunStream(r.Context(), tenantID, req.Message, mem)

		startSSE(w)
		for ev := range events {
			switch ev.Type {
			case agent.EventToken:
				sendSSEToken(w, flusher, ev.Content)
			case agent.EventError:
				sendSSEError(w, flusher, ev.Err)
			case agent.EventDone:
				persistTurnAndCache(context.WithoutCancel(r.Context()), deps, tenantID, req, ev.Response)
				sendSSEDone(w, flusher, chatResponseBody{
					Response:           ev.Response.Text,
					Sources:            ev.Response.Sources,
					Confidence:         ev.Response.Confidence,
					ShouldEscalate:     ev.Response.ShouldEscalate,
					HallucinationFlags: ev.Response.HallucinationFlags,
					ConversationID:     req.ConversationID,
				})
			}
		}
	}
}

func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func sendSSEToken(w http.ResponseWriter, f http.Flusher, content string) {
	payload, _ := json.Marshal(map[string]string{"type": "token", "content": content})
	w.Write(append(append([]byte("data: "), payload...), '\n', '\n'))
	f.Flush()
}

func sendSSEDone(w http.ResponseWriter, f http.Flusher, body chatResponseBody) {
	payload, _ := json.Marshal(struct {
		Type string `json:"type"`
		chatResponseBody
	}{Type: "done", chatResponseBody: body})
	w.Write(append(append([]byte("data: "), payload...), '\n', '\n'))
	f.Flush()
}

func sendSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Wrap(apperr.Internal, "internal error", err)
	}
	payload, _ := json.Marshal(map[string]string{
		"type":    "error",
		"kind":    string(appErr.Kind),
		"message": appErr.Message,
	})
	w.Write(append(append([]byte("data: "), payload...), '\n', '\n'))
	f.Flush()
}

func writeChatResponse(w http.ResponseWriter, body chatResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

// persistTurnAndCache runs the best-effort persistence and cache-store
// steps of §4.10 steps 6-7. ctx must already be detached from the
// request's cancellation (callers pass context.WithoutCancel) so a
// disconnecting client doesn't also abort bookkeeping that should still
// complete.
func persistTurnAndCache(ctx context.Context, deps ChatDeps, tenantID string, req chatRequest, resp *agent.Response) {
	if deps.Turns != nil {
		turn := &model.ConversationTurn{
			TenantID:           tenantID,
			ConversationID:     req.ConversationID,
			UserMessage:        req.Message,
			AssistantResponse:  resp.Text,
			Sources:            resp.Sources,
			Confidence:         resp.Confidence,
			ShouldEscalate:     resp.ShouldEscalate,
			HallucinationFlags: resp.HallucinationFlags,
			CreatedAt:          time.Now().UTC(),
		}
		if err := deps.Turns.Insert(ctx, turn); err != nil {
			slog.Error("handler.Chat: persist turn failed", "tenant_id", tenantID, "error", err)
		}
	}

	if resp.ShouldEscalate && deps.Metrics != nil {
		deps.Metrics.IncrementEscalation()
	}

	if deps.Cache != nil && !resp.ShouldEscalate {
		if err := deps.Cache.Store(ctx, tenantID, req.Message, resp.Text, resp.Sources, resp.Confidence); err != nil {
			slog.Warn("handler.Chat: cache store failed", "tenant_id", tenantID, "error", err)
		}
	}
}
