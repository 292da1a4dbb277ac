package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/docsift/docsift/internal/observability"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler reports the reachability of every external dependency.
type HealthHandler struct {
	logger *observability.Logger
	checks map[string]Check
}

// NewHealthHandler creates the health handler over the named checks.
func NewHealthHandler(logger *observability.Logger, checks map[string]Check) *HealthHandler {
	return &HealthHandler{
		logger: logger.WithComponent("api"),
		checks: checks,
	}
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /health. Every check runs even after a failure so
// the response names all unreachable dependencies at once.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Checks: make(map[string]string, len(h.checks))}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			resp.Status = "unhealthy"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
