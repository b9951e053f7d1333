package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// DBPinger is the interface for checking database connectivity.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// HealthDeps bundles the §6 /health dependency checks. Any field left nil
// is reported "connected" without being probed — used for collaborators the
// deployment doesn't wire (e.g. MemoryIndex in a single-node demo).
type HealthDeps struct {
	DB      DBPinger
	Gateway DBPinger // Model Gateway: reachability of at least one provider stage.
	Vector  DBPinger // Vector Index: reachability of the backing store.
	Version string
}

// Health returns a handler that reports server and dependency health per
// §6: {"status", "dependencies": {"model_gateway", "vector", "persistence"}}.
// GET /health (or /api/health) — no auth required.
func Health(db DBPinger, version ...string) http.HandlerFunc {
	ver := "0.0.0"
	if len(version) > 0 && version[0] != "" {
		ver = version[0]
	}
	return HealthWithDeps(HealthDeps{DB: db, Version: ver})
}

// HealthWithDeps is Health with explicit control over every checked
// dependency, used when the Model Gateway and Vector Index are also
// worth reporting (production wiring); Health alone keeps the
// single-dependency shape the simplest deployments and tests expect.
func HealthWithDeps(deps HealthDeps) http.HandlerFunc {
	ver := deps.Version
	if ver == "" {
		ver = "0.0.0"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := "ok"
		dbStatus := ping(ctx, deps.DB)
		gatewayStatus := ping(ctx, deps.Gateway)
		vectorStatus := ping(ctx, deps.Vector)

		httpStatus := http.StatusOK
		if dbStatus != "connected" || gatewayStatus != "connected" || vectorStatus != "connected" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   status,
			"version":  ver,
			"database": dbStatus, // kept for backward-compatible single-dependency callers
			"dependencies": map[string]string{
				"model_gateway": gatewayStatus,
				"vector":        vectorStatus,
				"persistence":   dbStatus,
			},
		})
	}
}

func ping(ctx context.Context, p DBPinger) string {
	if p == nil {
		return "connected"
	}
	if err := p.Ping(ctx); err != nil {
		return "disconnected"
	}
	return "connected"
}
