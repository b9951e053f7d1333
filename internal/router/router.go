// Package router assembles the HTTP surface (§6) over the handler and
// middleware packages: health, ingestion, buffered and streaming chat,
// and the conversation-history read endpoint.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scholarly-ai/tutor-backend/internal/handler"
	"github.com/scholarly-ai/tutor-backend/internal/ingest"
	"github.com/scholarly-ai/tutor-backend/internal/middleware"
	"github.com/scholarly-ai/tutor-backend/internal/ratelimit"
)

// Dependencies holds every collaborator the router wires into handlers.
type Dependencies struct {
	Version             string
	FrontendURL         string
	InternalAuthSecret  string
	AllowAnonymousDemo  bool
	DB                  handler.DBPinger
	GatewayHealth       handler.DBPinger
	VectorHealth        handler.DBPinger
	Metrics             *middleware.Metrics
	MetricsReg          *prometheus.Registry
	TenantLimiter       ratelimit.KeyLimiter
	IPLimiter           ratelimit.KeyLimiter
	Ingest              *ingest.Coordinator
	Chat                handler.ChatDeps
	Turns               handler.TurnLister
}

// New builds the chi router implementing §6's HTTP surface.
func New(deps Dependencies) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	r.Get("/health", handler.HealthWithDeps(handler.HealthDeps{
		DB:      deps.DB,
		Gateway: deps.GatewayHealth,
		Vector:  deps.VectorHealth,
		Version: deps.Version,
	}))

	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	r.Group(func(authed chi.Router) {
		authed.Use(middleware.ResolveTenant(deps.InternalAuthSecret, deps.AllowAnonymousDemo))
		authed.Use(middleware.RateLimit(deps.TenantLimiter, deps.IPLimiter))

		authed.Post("/upload/content", handler.Upload(deps.Ingest))
		authed.Post("/chat", handler.Chat(deps.Chat))
		authed.Post("/chat/stream", handler.ChatStream(deps.Chat))
		authed.Get("/conversations/{tenant_id}", handler.Conversations(deps.Turns))
	})

	return r
}

// HealthOnly builds a minimal router exposing only /health, used by
// degraded-mode or pre-dependency-wiring smoke tests.
func HealthOnly(db handler.DBPinger, version string) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handler.Health(db, version))
	return r
}
